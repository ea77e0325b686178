package ingestion

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/doc-chat/config"
	"github.com/fabfab/doc-chat/knowledge"
	"github.com/fabfab/doc-chat/session"
	"github.com/fabfab/doc-chat/vectorstore"
)

// UploadedFile is one file handed to the pipeline: its display name and raw
// bytes.
type UploadedFile struct {
	Name string
	Data []byte
}

// Service runs the ingestion pipeline for a session: stage, load, split,
// embed, commit. From the caller's view the pipeline is all-or-nothing;
// the session's index and processed list change only when every stage
// succeeded, even though individual files, images, and texts fail soft
// internally.
type Service struct {
	store  vectorstore.Store
	loader *Loader
	driver neo4j.DriverWithContext
	logger *log.Logger
	cfg    config.IngestionConfig
}

func NewService(store vectorstore.Store, loader *Loader, driver neo4j.DriverWithContext, cfg config.IngestionConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:  store,
		loader: loader,
		driver: driver,
		logger: logger,
		cfg:    cfg,
	}
}

// ProcessFiles ingests uploads into the session's index. Files whose names
// are already in the processed list are skipped, so re-uploading is a no-op.
// The staging directory is removed on every exit path.
func (s *Service) ProcessFiles(ctx context.Context, sess *session.Session, uploads []UploadedFile) error {
	if s.store == nil {
		return fmt.Errorf("vector store not configured")
	}
	if sess == nil {
		return fmt.Errorf("session is nil")
	}

	start := time.Now()

	stagingDir := filepath.Join(s.cfg.DataDir, sess.ID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			s.logger.Printf("could not clean up staging directory %s: %v", stagingDir, err)
		}
	}()

	staged := make([]string, 0, len(uploads))
	newNames := make([]string, 0, len(uploads))
	seen := make(map[string]struct{}, len(uploads))

	for _, upload := range uploads {
		if sess.HasProcessed(upload.Name) {
			continue
		}
		if _, dup := seen[upload.Name]; dup {
			continue
		}
		seen[upload.Name] = struct{}{}

		path := filepath.Join(stagingDir, filepath.Base(upload.Name))
		if err := os.WriteFile(path, upload.Data, 0o644); err != nil {
			return fmt.Errorf("stage file %s: %w", upload.Name, err)
		}
		staged = append(staged, path)
		newNames = append(newNames, upload.Name)
	}

	if len(staged) == 0 {
		s.logger.Printf("no new files to process for session %s", sess.ID)
		return nil
	}

	s.logger.Printf("loading %d file(s) for session %s", len(staged), sess.ID)
	docs := s.loader.LoadFiles(ctx, staged)
	if len(docs) == 0 {
		s.logger.Printf("no documents extracted from files for session %s", sess.ID)
		return nil
	}

	s.logger.Printf("extracted %d document(s), creating text splits", len(docs))
	chunks := SplitDocuments(docs, s.cfg.ChunkSize, s.cfg.ChunkOverlap, s.cfg.MaxWorkers, s.logger)
	if len(chunks) == 0 {
		s.logger.Printf("no text splits created for session %s", sess.ID)
		return nil
	}

	s.logger.Printf("created %d chunk(s), generating embeddings", len(chunks))

	index := sess.Index()
	if index == nil {
		created, err := s.store.CreateIndex(ctx, sess.ID, chunks)
		if err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		index = created
	} else {
		if err := index.Add(ctx, chunks); err != nil {
			return fmt.Errorf("update index: %w", err)
		}
		if index.Degraded() {
			s.logger.Printf("index for session %s was rebuilt in degraded mode, prior entries were lost", sess.ID)
		}
	}

	// The processed list is extended only after the index write succeeded.
	sess.Commit(index, newNames)

	s.syncGraph(ctx, sess.ID, newNames, chunks)

	s.logger.Printf("processed %d file(s), %d chunk(s) in %s", len(newNames), len(chunks), time.Since(start).Round(time.Millisecond))
	return nil
}

// IngestDirectory reads the regular files directly under dir and runs them
// through ProcessFiles.
func (s *Service) IngestDirectory(ctx context.Context, sess *session.Session, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read data directory: %w", err)
	}

	uploads := make([]UploadedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, readErr := os.ReadFile(filepath.Join(dir, entry.Name()))
		if readErr != nil {
			s.logger.Printf("error reading file %s: %v", entry.Name(), readErr)
			continue
		}
		uploads = append(uploads, UploadedFile{Name: entry.Name(), Data: data})
	}

	if len(uploads) == 0 {
		s.logger.Printf("no files found in %s", dir)
		return nil
	}

	return s.ProcessFiles(ctx, sess, uploads)
}

// syncGraph mirrors the commit into the knowledge graph. Best effort: graph
// trouble never fails an ingestion that already committed.
func (s *Service) syncGraph(ctx context.Context, sessionID string, fileNames []string, chunks []vectorstore.Chunk) {
	if s.driver == nil {
		return
	}

	counts := make(map[string]int, len(fileNames))
	for _, chunk := range chunks {
		counts[chunk.Metadata[vectorstore.MetadataFileName]]++
	}

	docs := make([]knowledge.DocumentNode, 0, len(fileNames))
	for _, name := range fileNames {
		docs = append(docs, knowledge.DocumentNode{
			FileName:   name,
			ChunkCount: counts[filepath.Base(name)],
		})
	}

	if err := knowledge.SyncDocuments(ctx, s.driver, sessionID, docs); err != nil {
		s.logger.Printf("knowledge graph sync failed for session %s: %v", sessionID, err)
	}
}
