package ingestion

import (
	"log"
	"strings"
	"sync"

	"github.com/fabfab/doc-chat/vectorstore"
)

const (
	defaultChunkSize    = 300
	defaultChunkOverlap = 100

	// sequentialSplitLimit is the document count at or below which splitting
	// runs on the calling goroutine.
	sequentialSplitLimit = 10
)

// Boundary preference for splits: paragraph, line, sentence, word, then a
// hard character cut.
var splitSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// SplitDocuments splits documents into overlapping chunks that inherit their
// source metadata. Large input sets are partitioned into contiguous batches
// split concurrently; results are concatenated in batch order, so output is
// deterministic regardless of concurrency.
func SplitDocuments(docs []Document, chunkSize, chunkOverlap, maxWorkers int, logger *log.Logger) []vectorstore.Chunk {
	if len(docs) == 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = defaultChunkOverlap
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 3
		}
	}

	if len(docs) <= sequentialSplitLimit {
		return splitBatch(docs, chunkSize, chunkOverlap)
	}

	if maxWorkers <= 0 {
		maxWorkers = len(docs) / 5
		if maxWorkers > 4 {
			maxWorkers = 4
		}
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	batchSize := len(docs) / maxWorkers
	if batchSize < 1 {
		batchSize = 1
	}

	batches := make([][]Document, 0, maxWorkers+1)
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[start:end])
	}

	results := make([][]vectorstore.Chunk, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []Document) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Printf("document splitting failed for batch %d: %v", i, r)
					results[i] = nil
				}
			}()
			results[i] = splitBatch(batch, chunkSize, chunkOverlap)
		}(i, batch)
	}
	wg.Wait()

	var chunks []vectorstore.Chunk
	for _, batch := range results {
		chunks = append(chunks, batch...)
	}
	return chunks
}

func splitBatch(docs []Document, size, overlap int) []vectorstore.Chunk {
	chunks := make([]vectorstore.Chunk, 0, len(docs))
	for _, doc := range docs {
		for _, piece := range splitText(doc.Content, size, overlap) {
			chunks = append(chunks, vectorstore.Chunk{
				Content:  piece,
				Metadata: cloneMetadata(doc.Metadata),
			})
		}
	}
	return chunks
}

// splitText splits text into pieces of at most size characters, preferring
// natural boundaries and overlapping consecutive pieces by up to overlap
// characters.
func splitText(text string, size, overlap int) []string {
	return splitRecursive(text, size, overlap, splitSeparators)
}

func splitRecursive(text string, size, overlap int, separators []string) []string {
	if len(text) <= size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	sep := ""
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return hardCut(text, size, overlap)
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if len(part) <= size {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, splitRecursive(part, size, overlap, rest)...)
	}

	return mergePieces(pieces, sep, size, overlap)
}

// mergePieces re-joins boundary-split pieces into chunks of at most size
// characters, carrying a tail of at most overlap characters into the next
// chunk.
func mergePieces(pieces []string, sep string, size, overlap int) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func(next string) {
		chunk := strings.Join(current, sep)
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}

		var tail []string
		tailLen := 0
		if overlap > 0 {
			for i := len(current) - 1; i >= 0; i-- {
				addition := len(current[i])
				if tailLen > 0 {
					addition += len(sep)
				}
				if tailLen+addition > overlap {
					break
				}
				tail = append([]string{current[i]}, tail...)
				tailLen += addition
			}
		}

		// The retained tail plus the incoming piece must still fit.
		for len(tail) > 0 && tailLen+len(sep)+len(next) > size {
			tailLen -= len(tail[0])
			if len(tail) > 1 {
				tailLen -= len(sep)
			}
			tail = tail[1:]
		}

		current = tail
		currentLen = tailLen
	}

	for _, piece := range pieces {
		addition := len(piece)
		if len(current) > 0 {
			addition += len(sep)
		}
		if currentLen+addition > size && len(current) > 0 {
			flush(piece)
		}

		if len(current) > 0 {
			currentLen += len(sep)
		}
		current = append(current, piece)
		currentLen += len(piece)
	}

	if len(current) > 0 {
		chunk := strings.Join(current, sep)
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

func hardCut(text string, size, overlap int) []string {
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]string, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}
	return cloned
}
