package chat

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type InsightStore interface {
	DocumentInsights(ctx context.Context, sessionID string, fileNames []string) (map[string]Insight, error)
}

type Neo4jInsightStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jInsightStore(driver neo4j.DriverWithContext) *Neo4jInsightStore {
	return &Neo4jInsightStore{driver: driver}
}

func (s *Neo4jInsightStore) DocumentInsights(ctx context.Context, sessionID string, fileNames []string) (map[string]Insight, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(fileNames) == 0 {
		return map[string]Insight{}, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Session {id: $sessionID})-[:HAS_DOCUMENT]->(d:Document)
		WHERE d.name IN $fileNames
		OPTIONAL MATCH (s)-[:HAS_DOCUMENT]->(related:Document)
		WHERE related.name <> d.name
		WITH d, collect(DISTINCT related.name) AS relatedNames
		RETURN d.name AS fileName,
		       d.chunk_count AS chunkCount,
		       relatedNames AS related
	`, map[string]any{"sessionID": sessionID, "fileNames": fileNames})
	if err != nil {
		return nil, fmt.Errorf("run neo4j insights query: %w", err)
	}

	insights := make(map[string]Insight, len(fileNames))
	for result.Next(ctx) {
		record := result.Record()
		name, _ := record.Get("fileName")
		count, _ := record.Get("chunkCount")
		relatedVal, _ := record.Get("related")
		fileName, ok := name.(string)
		if !ok {
			continue
		}
		var chunkCount int64
		switch v := count.(type) {
		case int64:
			chunkCount = v
		case int32:
			chunkCount = int64(v)
		}
		insights[fileName] = Insight{
			ChunkCount: int(chunkCount),
			Related:    convertStringSlice(relatedVal),
		}
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j insights result error: %w", err)
	}

	return insights, nil
}

var _ InsightStore = (*Neo4jInsightStore)(nil)

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}
