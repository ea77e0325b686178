package ingestion

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/fabfab/doc-chat/config"
	"github.com/fabfab/doc-chat/vision"
)

// ImageDescriber is the vision capability the loader needs: image paths in,
// completion-ordered descriptions out, per-image failures already softened.
type ImageDescriber interface {
	DescribeMany(ctx context.Context, paths []string) []vision.Description
}

// Loader resolves staged files into Documents. Images go to the vision
// describer as one batch; everything else is dispatched by format to a
// registered parser on a bounded worker pool. A file that cannot be loaded
// contributes zero documents and a logged warning, never an error.
type Loader struct {
	registry   *ParserRegistry
	describer  ImageDescriber
	maxWorkers int
	logger     *log.Logger
}

func NewLoader(registry *ParserRegistry, describer ImageDescriber, maxWorkers int, logger *log.Logger) *Loader {
	if registry == nil {
		registry = NewParserRegistry()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{
		registry:   registry,
		describer:  describer,
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

// fileOutcome records one file's load result so the fail-soft substitution
// is an explicit pass over collected results.
type fileOutcome struct {
	path string
	docs []Document
	err  error
}

// LoadFiles extracts Documents from every path it can. Output order across
// files is not guaranteed; correspondence is carried by metadata.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) []Document {
	if len(paths) == 0 {
		return nil
	}

	var imagePaths, otherPaths []string
	for _, path := range paths {
		if IsImage(path) {
			imagePaths = append(imagePaths, path)
		} else {
			otherPaths = append(otherPaths, path)
		}
	}

	var docs []Document

	// Images run as their own batch: the vision endpoint wants a different
	// concurrency profile than local text parsing.
	if len(imagePaths) > 0 && l.describer != nil {
		for _, desc := range l.describer.DescribeMany(ctx, imagePaths) {
			docs = append(docs, NewDocument(desc.Text, desc.FileName))
		}
	} else if len(imagePaths) > 0 {
		l.logger.Printf("no image describer configured, skipping %d image file(s)", len(imagePaths))
	}

	if len(otherPaths) == 0 {
		return docs
	}

	workers := l.maxWorkers
	if workers <= 0 {
		workers = config.OptimalWorkers("mixed")
	}
	if workers > len(otherPaths) {
		workers = len(otherPaths)
	}

	outcomes := make([]fileOutcome, len(otherPaths))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, path := range otherPaths {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			loaded, err := l.loadFile(path)
			outcomes[i] = fileOutcome{path: path, docs: loaded, err: err}
		}(i, path)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		if outcome.err != nil {
			l.logger.Printf("error processing file %s: %v", outcome.path, outcome.err)
			continue
		}
		docs = append(docs, outcome.docs...)
	}

	return docs
}

func (l *Loader) loadFile(path string) ([]Document, error) {
	format := DetectFormat(path)
	parser, ok := l.registry.ParserFor(format)
	if !ok {
		l.logger.Printf("unsupported file type: %s", path)
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parser.Parse(DocumentPayload{Path: path, Data: data})
}
