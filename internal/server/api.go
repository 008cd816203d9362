package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/adrag/adrag/internal/generator"
	"github.com/adrag/adrag/internal/index"
	"github.com/adrag/adrag/internal/observability"
	"github.com/adrag/adrag/internal/retrieval"
	"github.com/adrag/adrag/internal/service"
)

// MaxQuestionLen caps the accepted question length in characters.
const MaxQuestionLen = 1000

// Answerer is the pipeline surface the API exposes.
type Answerer interface {
	Answer(ctx context.Context, query string, k int) (*generator.AnswerWithCitations, error)
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.RetrievedChunk, error)
}

// APIConfig describes the running deployment for the metadata endpoint.
type APIConfig struct {
	LLMProvider    string
	LLMModel       string
	EmbeddingModel string
	TopKDefault    int
}

// APIServer serves the query API over HTTP.
type APIServer struct {
	svc    Answerer
	store  *index.Store
	paths  index.Paths
	cfg    APIConfig
	logger *slog.Logger
}

// NewAPIServer creates an APIServer. store may still be unloaded; endpoints
// answer 503 until it is.
func NewAPIServer(svc Answerer, store *index.Store, paths index.Paths, cfg APIConfig, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{svc: svc, store: store, paths: paths, cfg: cfg, logger: logger}
}

// Handler returns the API routes.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metadata", s.handleMetadata)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /retrieve", s.handleRetrieve)
	mux.Handle("GET /metrics", observability.Metrics().Handler())
	return mux
}

// ListenAndServe runs the API server until ctx is cancelled, then shuts it
// down gracefully.
func (s *APIServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("api server listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type healthPayload struct {
	Status      string `json:"status"`
	IndexLoaded bool   `json:"index_loaded"`
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.store.Loaded() {
		writeError(w, http.StatusServiceUnavailable, "service not initialized or index not loaded")
		return
	}
	writeJSON(w, http.StatusOK, healthPayload{Status: "ok", IndexLoaded: true})
}

type fileInfo struct {
	Path      string  `json:"path"`
	Exists    bool    `json:"exists"`
	Bytes     int64   `json:"bytes,omitempty"`
	MtimeUnix float64 `json:"mtime_unix,omitempty"`
}

func statFile(path string) fileInfo {
	st, err := os.Stat(path)
	if err != nil {
		return fileInfo{Path: path, Exists: false}
	}
	return fileInfo{
		Path:      path,
		Exists:    true,
		Bytes:     st.Size(),
		MtimeUnix: float64(st.ModTime().UnixNano()) / 1e9,
	}
}

type metadataPayload struct {
	LLMProvider    string              `json:"llm_provider"`
	LLMModel       string              `json:"llm_model_name"`
	EmbeddingModel string              `json:"embedding_model_id"`
	TopKDefault    int                 `json:"top_k_default"`
	Artifacts      map[string]fileInfo `json:"artifacts"`
	RunMeta        *index.RunMeta      `json:"run_meta,omitempty"`
}

func (s *APIServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	payload := metadataPayload{
		LLMProvider:    s.cfg.LLMProvider,
		LLMModel:       s.cfg.LLMModel,
		EmbeddingModel: s.cfg.EmbeddingModel,
		TopKDefault:    s.cfg.TopKDefault,
		Artifacts: map[string]fileInfo{
			"index":    statFile(s.paths.Index),
			"lookup":   statFile(s.paths.Lookup),
			"run_meta": statFile(s.paths.Meta),
		},
	}
	if s.store != nil {
		if meta, err := s.store.Meta(); err == nil {
			payload.RunMeta = &meta
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type queryRequest struct {
	Question string `json:"question"`
}

func (s *APIServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.store.Loaded() {
		writeError(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "Question cannot be empty.")
		return
	}
	if len(req.Question) > MaxQuestionLen {
		writeError(w, http.StatusBadRequest, "Question too long.")
		return
	}

	answer, err := s.svc.Answer(r.Context(), req.Question, 0)
	if err != nil {
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// K is a pointer so an omitted value (service default) is distinguishable
// from an explicit zero, which is invalid.
type retrieveRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k"`
}

func (s *APIServer) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.store.Loaded() {
		writeError(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Query) > MaxQuestionLen {
		writeError(w, http.StatusBadRequest, "Query too long.")
		return
	}
	k := 0
	if req.K != nil {
		if *req.K < 1 {
			writeError(w, http.StatusBadRequest, "k must be positive.")
			return
		}
		k = *req.K
	}
	if isBlank(req.Query) {
		writeError(w, http.StatusBadRequest, "Query cannot be empty.")
		return
	}

	chunks, err := s.svc.Retrieve(r.Context(), req.Query, k)
	if err != nil {
		s.logger.Error("retrieve failed", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
		return
	}
	if chunks == nil {
		chunks = []retrieval.RetrievedChunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

type errorPayload struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorPayload{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var _ Answerer = (*service.Service)(nil)
