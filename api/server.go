// Package api exposes the document-chat workflows over HTTP: per-session
// document upload, chat, session inspection, and teardown.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabfab/doc-chat/chat"
	"github.com/fabfab/doc-chat/config"
	"github.com/fabfab/doc-chat/database"
	"github.com/fabfab/doc-chat/ingestion"
	"github.com/fabfab/doc-chat/knowledge"
	"github.com/fabfab/doc-chat/llm"
	"github.com/fabfab/doc-chat/session"
)

const maxUploadBytes = 64 << 20

// Deps carries the long-lived collaborators the server routes requests to.
// Pool and Driver are optional; handlers that need them degrade gracefully.
type Deps struct {
	Ingest   *ingestion.Service
	Sessions *session.Registry
	LLM      llm.Client
	Insights chat.InsightStore
	Turns    chat.TurnStore
	Pool     *pgxpool.Pool
	Driver   neo4j.DriverWithContext
}

// Server routes HTTP traffic onto sessions and their responders.
type Server struct {
	cfg      config.Config
	deps     Deps
	logger   *log.Logger
	metrics  *serverMetrics
	registry *prometheus.Registry
	handler  http.Handler

	mu         sync.Mutex
	responders map[string]*chat.Responder
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	Message        string   `json:"message"`
	ProcessedFiles []string `json:"processedFiles"`
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer             string       `json:"answer"`
	Sources            []chatSource `json:"sources"`
	ContextChunks      int          `json:"contextChunks"`
	ConversationLength int          `json:"conversationLength"`
}

type chatSource struct {
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata"`
	RelevanceScore float64           `json:"relevanceScore"`
	Insight        chatInsight       `json:"insight"`
}

type chatInsight struct {
	ChunkCount int      `json:"chunkCount"`
	Related    []string `json:"related"`
}

type sessionResponse struct {
	Session            string   `json:"session"`
	ProcessedFiles     []string `json:"processedFiles"`
	ChunkCount         int      `json:"chunkCount"`
	ConversationLength int      `json:"conversationLength"`
	Degraded           bool     `json:"degraded"`
}

// New constructs a Server. A nil registry gets a private one; Registry()
// exposes it for the /metrics endpoint and for tests.
func New(cfg config.Config, deps Deps, registry *prometheus.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		metrics:    newServerMetrics(registry),
		registry:   registry,
		responders: make(map[string]*chat.Responder),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.instrument("health", s.handleHealth))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /api/sessions/{session}/documents", s.instrument("documents", s.handleUpload))
	mux.HandleFunc("POST /api/sessions/{session}/chat", s.instrument("chat", s.handleChat))
	mux.HandleFunc("GET /api/sessions/{session}", s.instrument("session", s.handleSessionInfo))
	mux.HandleFunc("DELETE /api/sessions/{session}", s.instrument("session", s.handleClearSession))
	return mux
}

// statusRecorder captures the status code written by a handler so the
// request counter can label by it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, fmt.Sprintf("%d", rec.status)).Inc()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("no files uploaded"))
		return
	}

	uploads := make([]ingestion.UploadedFile, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("open upload %s: %w", header.Filename, err))
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload %s: %w", header.Filename, err))
			return
		}
		uploads = append(uploads, ingestion.UploadedFile{Name: header.Filename, Data: data})
	}

	sess := s.deps.Sessions.GetOrCreate(sessionID)
	processedBefore := len(sess.ProcessedFiles())
	if err := s.deps.Ingest.ProcessFiles(r.Context(), sess, uploads); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}
	// Count only files the pipeline actually ingested, not duplicates it skipped.
	if delta := len(sess.ProcessedFiles()) - processedBefore; delta > 0 {
		s.metrics.ingestedFilesTotal.Add(float64(delta))
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Message:        "ingestion complete",
		ProcessedFiles: sess.ProcessedFiles(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	sess, ok := s.deps.Sessions.Get(sessionID)
	if !ok || sess.Index() == nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("upload documents before chatting"))
		return
	}

	result, err := s.responderFor(sess).Chat(r.Context(), req.Question)
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("chat failed: %w", err))
		return
	}

	outcome := "ok"
	if strings.HasPrefix(result.Answer, "Error") {
		outcome = "degraded"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()

	s.writeJSON(w, http.StatusOK, transformResult(result))
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	sess, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown session %s", sessionID))
		return
	}

	resp := sessionResponse{
		Session:            sess.ID,
		ProcessedFiles:     sess.ProcessedFiles(),
		ConversationLength: len(sess.Turns()),
	}
	if index := sess.Index(); index != nil {
		count, err := index.Count(r.Context())
		if err != nil {
			s.logger.Printf("count chunks for session %s: %v", sess.ID, err)
		} else {
			resp.ChunkCount = count
		}
		resp.Degraded = index.Degraded()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	ctx := r.Context()

	s.deps.Sessions.Remove(ctx, sessionID)

	s.mu.Lock()
	delete(s.responders, sessionID)
	s.mu.Unlock()

	if s.deps.Pool != nil {
		if err := database.ClearSession(ctx, s.deps.Pool, sessionID); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear session data: %w", err))
			return
		}
	}
	if s.deps.Driver != nil {
		if err := knowledge.PurgeSession(ctx, s.deps.Driver, sessionID); err != nil {
			s.logger.Printf("purge session graph %s: %v", sessionID, err)
		}
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "session cleared"})
}

func (s *Server) responderFor(sess *session.Session) *chat.Responder {
	s.mu.Lock()
	defer s.mu.Unlock()

	responder, ok := s.responders[sess.ID]
	if !ok {
		responder = chat.NewResponder(sess, s.deps.LLM, s.deps.Insights, s.deps.Turns, s.logger)
		s.responders[sess.ID] = responder
	}
	return responder
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func transformResult(result chat.Result) chatResponse {
	resp := chatResponse{
		Answer:             result.Answer,
		ContextChunks:      result.ContextChunks,
		ConversationLength: result.ConversationLength,
	}
	if len(result.Sources) == 0 {
		return resp
	}

	sources := make([]chatSource, len(result.Sources))
	for i, src := range result.Sources {
		sources[i] = chatSource{
			Content:        src.Content,
			Metadata:       src.Metadata,
			RelevanceScore: src.RelevanceScore,
			Insight: chatInsight{
				ChunkCount: src.Insight.ChunkCount,
				Related:    append([]string(nil), src.Insight.Related...),
			},
		}
	}
	resp.Sources = sources
	return resp
}
