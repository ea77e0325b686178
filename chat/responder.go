// Package chat answers questions over a session's ingested documents:
// multi-query retrieval against the session index, prompt assembly with
// recent conversation history, and generation with graceful degradation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fabfab/doc-chat/database"
	"github.com/fabfab/doc-chat/llm"
	"github.com/fabfab/doc-chat/session"
	"github.com/fabfab/doc-chat/vectorstore"
)

const (
	// contextLimit caps the deduplicated chunks fed into the prompt.
	contextLimit = 7
	sourceLimit  = 3
	// distanceThreshold filters retrieval hits; distances above it are
	// considered noise unless the fallback path kicks in.
	distanceThreshold = 1.5
	fallbackLimit     = 3
	historyWindow     = 3
	previewLength     = 200
	generateTimeout   = 30 * time.Second
)

// TurnStore persists conversation turns across process restarts and replays
// them when a session resumes.
type TurnStore interface {
	SaveTurn(ctx context.Context, turn database.Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]database.Turn, error)
}

// Responder answers questions for one session.
type Responder struct {
	sess     *session.Session
	llm      llm.Client
	insights InsightStore
	turns    TurnStore
	logger   *log.Logger

	hydrated bool
}

// NewResponder builds a responder. insights and turns are optional; when nil
// the answers simply come without graph enrichment or persisted turns.
func NewResponder(sess *session.Session, client llm.Client, insights InsightStore, turns TurnStore, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.Default()
	}

	return &Responder{
		sess:     sess,
		llm:      client,
		insights: insights,
		turns:    turns,
		logger:   logger,
	}
}

// Chat runs the full retrieval-augmented exchange. Generation failures are
// folded into the answer text so a conversation never dies mid-session; the
// only hard error is asking before any documents were ingested.
func (r *Responder) Chat(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, fmt.Errorf("question cannot be empty")
	}
	if r.llm == nil {
		return Result{}, fmt.Errorf("llm client is not configured")
	}

	index := r.sess.Index()
	if index == nil {
		return Result{}, fmt.Errorf("session %s has no ingested documents", r.sess.ID)
	}

	r.hydrateHistory(ctx)

	contexts := r.retrieveEnhancedContext(ctx, index, question, contextLimit)
	sources := r.getSources(ctx, index, question)
	history := r.sess.RecentTurns(historyWindow)

	answer := r.generate(ctx, buildPrompt(question, contexts, history))

	turn := session.Turn{
		Question:      question,
		Answer:        answer,
		ContextChunks: len(contexts),
		CreatedAt:     time.Now(),
	}
	r.sess.AppendTurn(turn)
	if r.turns != nil {
		if err := r.turns.SaveTurn(ctx, database.Turn{
			SessionID:     r.sess.ID,
			Question:      turn.Question,
			Answer:        turn.Answer,
			ContextChunks: turn.ContextChunks,
			CreatedAt:     turn.CreatedAt,
		}); err != nil {
			r.logger.Printf("persist turn for session %s: %v", r.sess.ID, err)
		}
	}

	return Result{
		Answer:             answer,
		Sources:            sources,
		ContextChunks:      len(contexts),
		ConversationLength: len(r.sess.Turns()),
	}, nil
}

// hydrateHistory seeds the session log with persisted turns so a resumed
// session keeps its conversational context. Runs once per responder and only
// when the in-memory log is still empty; a read failure is logged and the
// conversation starts fresh.
func (r *Responder) hydrateHistory(ctx context.Context) {
	if r.turns == nil || r.hydrated {
		return
	}
	r.hydrated = true

	if len(r.sess.Turns()) > 0 {
		return
	}

	persisted, err := r.turns.RecentTurns(ctx, r.sess.ID, historyWindow)
	if err != nil {
		r.logger.Printf("load persisted turns for session %s: %v", r.sess.ID, err)
		return
	}
	for _, turn := range persisted {
		r.sess.AppendTurn(session.Turn{
			Question:      turn.Question,
			Answer:        turn.Answer,
			ContextChunks: turn.ContextChunks,
			CreatedAt:     turn.CreatedAt,
		})
	}
}

// retrieveContext returns chunk contents within the distance threshold. When
// nothing clears the bar it falls back to the top unthresholded hits so the
// prompt is never starved by a strict cutoff.
func (r *Responder) retrieveContext(ctx context.Context, index vectorstore.Index, query string, k int) []string {
	results, err := index.SearchWithScore(ctx, query, k)
	if err != nil {
		r.logger.Printf("retrieve context: %v", err)
		return nil
	}

	contexts := make([]string, 0, len(results))
	for _, result := range results {
		if result.Distance < distanceThreshold {
			contexts = append(contexts, result.Content)
		}
	}
	if len(contexts) > 0 {
		return contexts
	}

	limit := k
	if limit > fallbackLimit {
		limit = fallbackLimit
	}
	fallback, err := index.Search(ctx, query, limit)
	if err != nil {
		r.logger.Printf("retrieve fallback context: %v", err)
		return nil
	}
	for _, chunk := range fallback {
		contexts = append(contexts, chunk.Content)
	}
	return contexts
}

// enhanceQuery expands a query into search variants: the original, the
// question stripped of its leading interrogative word, and the bare topic of
// an explain/describe request.
func enhanceQuery(query string) []string {
	variants := []string{query}
	lower := strings.ToLower(query)

	for _, word := range []string{"what", "how", "why", "when", "where", "who"} {
		if strings.HasPrefix(lower, word) {
			if terms := strings.Fields(query)[1:]; len(terms) > 0 {
				variants = append(variants, strings.Join(terms, " "))
			}
			break
		}
	}

	if strings.Contains(lower, "explain") || strings.Contains(lower, "describe") {
		topic := strings.ReplaceAll(lower, "explain", "")
		topic = strings.TrimSpace(strings.ReplaceAll(topic, "describe", ""))
		if topic != "" {
			variants = append(variants, topic)
		}
	}

	return variants
}

// retrieveEnhancedContext searches every query variant, splitting the chunk
// budget between them, and merges the hits keeping first-seen order.
func (r *Responder) retrieveEnhancedContext(ctx context.Context, index vectorstore.Index, query string, k int) []string {
	variants := enhanceQuery(query)
	perVariant := k/len(variants) + 1

	var all []string
	for _, variant := range variants {
		all = append(all, r.retrieveContext(ctx, index, variant, perVariant)...)
	}

	seen := make(map[string]struct{}, len(all))
	contexts := make([]string, 0, len(all))
	for _, content := range all {
		if _, ok := seen[content]; ok {
			continue
		}
		seen[content] = struct{}{}
		contexts = append(contexts, content)
	}

	if len(contexts) > k {
		contexts = contexts[:k]
	}
	return contexts
}

// getSources collects the top hits for user-facing attribution, enriched with
// graph insights when a store is configured. Failures degrade to no sources.
func (r *Responder) getSources(ctx context.Context, index vectorstore.Index, query string) []Source {
	results, err := index.SearchWithScore(ctx, query, sourceLimit)
	if err != nil {
		r.logger.Printf("get sources: %v", err)
		return nil
	}

	sources := make([]Source, 0, len(results))
	for _, result := range results {
		content := result.Content
		if runes := []rune(content); len(runes) > previewLength {
			content = string(runes[:previewLength]) + "..."
		}
		sources = append(sources, Source{
			Content:        content,
			Metadata:       result.Metadata,
			RelevanceScore: result.Distance,
		})
	}

	if r.insights != nil && len(sources) > 0 {
		fileNames := make([]string, 0, len(sources))
		for _, source := range sources {
			if name := source.Metadata[vectorstore.MetadataFileName]; name != "" {
				fileNames = append(fileNames, name)
			}
		}
		insightMap, insightErr := r.insights.DocumentInsights(ctx, r.sess.ID, unique(fileNames))
		if insightErr != nil {
			r.logger.Printf("graph insights error: %v", insightErr)
		} else {
			for i := range sources {
				if insight, ok := insightMap[sources[i].Metadata[vectorstore.MetadataFileName]]; ok {
					sources[i].Insight = insight
				}
			}
		}
	}

	return sources
}

// generate calls the model under a hard timeout and maps failures to literal
// answer strings rather than errors.
func (r *Responder) generate(ctx context.Context, prompt string) string {
	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	answer, err := r.llm.Generate(genCtx, prompt)
	if err != nil {
		var statusErr *llm.StatusError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return "Error: Request timed out. Please try again."
		case errors.As(err, &statusErr):
			return fmt.Sprintf("Error: Failed to get response from AI model (Status: %d)", statusErr.Code)
		default:
			return fmt.Sprintf("Error generating response: %s", err)
		}
	}
	return answer
}

// taskInstruction picks prompt guidance from the question's shape. The checks
// are ordered: a question that both summarizes and compares reads as a
// summary request.
func taskInstruction(query string) string {
	lower := strings.ToLower(query)

	if containsAny(lower, "summarize", "summary", "overview", "main points") {
		return "Provide a comprehensive summary of the key points from the context."
	}
	if containsAny(lower, "compare", "difference", "versus", "vs") {
		return "Compare the different aspects mentioned in the context, highlighting similarities and differences."
	}
	if containsAny(lower, "how", "why", "explain") {
		return "Provide a detailed explanation based on the context, breaking down complex concepts if needed."
	}
	return "Answer the question directly using information from the context."
}

func containsAny(s string, words ...string) bool {
	for _, word := range words {
		if strings.Contains(s, word) {
			return true
		}
	}
	return false
}

func buildPrompt(question string, contexts []string, history []session.Turn) string {
	contextText := "No relevant context found."
	if len(contexts) > 0 {
		contextText = strings.Join(contexts, "\n\n")
	}

	var conversation strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&conversation, "Human: %s\nAssistant: %s\n\n", turn.Question, turn.Answer)
	}

	return fmt.Sprintf(`You are a helpful AI assistant that answers questions based on provided document context.

Previous conversation:
%s

Context from documents:
%s

Current question: %s

Task: %s

Instructions:
1. Base your answer primarily on the provided context
2. If the context is insufficient, clearly state what information is missing
3. Be accurate and cite specific details from the context when relevant
4. Structure your response clearly with bullet points or numbered lists when appropriate
5. If this relates to previous conversation, acknowledge the connection
6. Keep responses focused and informative

Answer:`, conversation.String(), contextText, question, taskInstruction(question))
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
