package ingestion

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/fabfab/doc-chat/session"
)

// Watcher auto-ingests files dropped into a directory, the headless
// equivalent of re-uploading through a UI. Each created or rewritten file is
// ingested into the fixed target session; already-processed names are skipped
// by the pipeline's idempotency check.
type Watcher struct {
	service *Service
	watcher *fsnotify.Watcher
	logger  *log.Logger
}

func NewWatcher(service *Service, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		service: service,
		watcher: fsw,
		logger:  logger,
	}, nil
}

// Watch blocks ingesting drop-directory events until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, sess *session.Session, dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.logger.Printf("watching %s for session %s", dir, sess.ID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if DetectFormat(event.Name) == FormatUnknown {
				continue
			}
			w.ingestPath(ctx, sess, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) ingestPath(ctx context.Context, sess *session.Session, path string) {
	name := filepath.Base(path)
	if sess.HasProcessed(name) {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Printf("error reading dropped file %s: %v", path, err)
		return
	}

	if err := w.service.ProcessFiles(ctx, sess, []UploadedFile{{Name: name, Data: data}}); err != nil {
		w.logger.Printf("ingest failed for dropped file %s: %v", path, err)
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
