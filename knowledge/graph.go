// Package knowledge maintains a Neo4j graph of sessions and their ingested
// documents. The graph is advisory: it enriches source listings with chunk
// counts and sibling documents, and every failure here is logged rather than
// surfaced to the pipeline.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DocumentNode is one ingested file as recorded in the graph.
type DocumentNode struct {
	FileName   string
	ChunkCount int
}

// SyncDocuments upserts the session node and its document nodes after a
// successful ingestion commit.
func SyncDocuments(ctx context.Context, driver neo4j.DriverWithContext, sessionID string, docs []DocumentNode) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	if len(docs) == 0 {
		return nil
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (s:Session {id: $session_id})
			SET s.updated_at = datetime()
		`, map[string]any{"session_id": sessionID}); err != nil {
			return nil, fmt.Errorf("upsert session node: %w", err)
		}

		for _, doc := range docs {
			if _, err := tx.Run(ctx, `
				MATCH (s:Session {id: $session_id})
				MERGE (d:Document {session_id: $session_id, name: $name})
				SET d.chunk_count = $chunk_count,
				    d.updated_at = datetime()
				MERGE (s)-[:HAS_DOCUMENT]->(d)
			`, map[string]any{
				"session_id":  sessionID,
				"name":        doc.FileName,
				"chunk_count": doc.ChunkCount,
			}); err != nil {
				return nil, fmt.Errorf("upsert document node %s: %w", doc.FileName, err)
			}
		}

		return nil, nil
	})

	return err
}

// PurgeSession removes the session node and every document it owns.
func PurgeSession(ctx context.Context, driver neo4j.DriverWithContext, sessionID string) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Session {id: $session_id})
		OPTIONAL MATCH (s)-[:HAS_DOCUMENT]->(d:Document)
		DETACH DELETE s, d
	`, map[string]any{"session_id": sessionID})
	if err != nil {
		return err
	}
	if _, err := result.Consume(ctx); err != nil {
		return err
	}
	return nil
}
