package chat

// Insight is what the knowledge graph knows about one source document.
type Insight struct {
	ChunkCount int
	// Related lists other documents ingested in the same session.
	Related []string
}

// Source is one user-facing retrieval hit backing an answer.
type Source struct {
	// Content is a preview of the matched chunk, truncated to 200 characters.
	Content  string
	Metadata map[string]string
	// RelevanceScore is the raw distance: smaller is more similar.
	RelevanceScore float64
	Insight        Insight
}

// Result is one completed exchange.
type Result struct {
	Answer  string
	Sources []Source
	// ContextChunks is how many deduplicated chunks fed the prompt.
	ContextChunks int
	// ConversationLength is the responder's exchange count so far.
	ConversationLength int
}
