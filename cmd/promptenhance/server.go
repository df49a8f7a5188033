package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/chriskillpack/promptenhance"
	"github.com/chriskillpack/promptenhance/enhancer"
	"github.com/chriskillpack/promptenhance/internal/config"
	"github.com/chriskillpack/promptenhance/internal/logging"
)

const maxBatchPrompts = 256

type poolFactory func(config.Config) (*promptenhance.Pool, error)

// Server is the HTTP surface used by the hosting UI.
type Server struct {
	hs      *http.Server
	router  chi.Router
	store   *config.Store
	history *promptenhance.History // nil disables recording
	logger  *slog.Logger
	newPool poolFactory

	mu      sync.RWMutex // guards current
	current *servingPool
	patchMu sync.Mutex // serializes configuration updates

	retiring sync.WaitGroup
	next     atomic.Uint64 // round robin cursor for single prompts
}

// servingPool pairs a pool with the configuration it was built from. users
// counts requests still using it; a replaced pool is closed once they finish.
type servingPool struct {
	pool  *promptenhance.Pool
	cfg   config.Config
	users sync.WaitGroup
}

type enhanceRequest struct {
	Prompt string `json:"prompt"`
}

type enhanceResponse struct {
	RequestID string `json:"request_id"`
	Original  string `json:"original"`
	Enhanced  string `json:"enhanced"`
}

type batchRequest struct {
	Prompts    []string `json:"prompts"`
	Concurrent bool     `json:"concurrent"`
}

type batchResponse struct {
	Results []string `json:"results"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
	PoolSize int    `json:"pool_size"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

// NewServer builds the initial pool from cfg. store receives PATCH updates
// and must hold the file values cfg was derived from.
func NewServer(cfg config.Config, store *config.Store, history *promptenhance.History, logger *slog.Logger, newPool poolFactory, addr string) (*Server, error) {
	pool, err := newPool(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		store:   store,
		history: history,
		logger:  logging.OrNop(logger).With(slog.String(logging.FieldComponent, "server")),
		newPool: newPool,
		current: &servingPool{pool: pool, cfg: cfg},
	}
	s.router = s.buildRouter()
	s.hs = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Start() error {
	return s.hs.ListenAndServe()
}

// Shutdown stops the listener and closes every pool once its requests finish
// or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.hs.Shutdown(ctx)

	s.mu.RLock()
	s.retire(s.current)
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.retiring.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

// retire closes sp's pool in the background after its last user releases it.
func (s *Server) retire(sp *servingPool) {
	s.retiring.Add(1)
	go func() {
		defer s.retiring.Done()
		sp.users.Wait()
		if err := sp.pool.Close(); err != nil {
			s.logger.Warn("error closing pool", slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Post("/enhance", s.handleEnhance)
		r.Post("/enhance/batch", s.handleBatch)
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleGetConfig)
		r.Patch("/config", s.handlePatchConfig)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String(logging.FieldRequestID, middleware.GetReqID(r.Context())),
		)
	})
}

// acquire returns the current pool and config. The pool stays open until the
// caller calls release.
func (s *Server) acquire() (*promptenhance.Pool, config.Config, func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.current
	sp.users.Add(1)
	return sp.pool, sp.cfg, sp.users.Done
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	id := uuid.NewString()
	ctx := logging.WithRequestID(r.Context(), id)

	pool, _, release := s.acquire()
	client := pool.Client(int(s.next.Add(1) % uint64(pool.Size())))
	enhanced, err := client.Enhance(ctx, req.Prompt)
	release()
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, enhancer.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, errorResponse{Error: err.Error(), Kind: enhancer.KindName(err)})
		return
	}

	s.record(r.Context(), &promptenhance.Conversion{
		RequestID: id,
		Backend:   client.Name(),
		Model:     client.Model(),
		Original:  req.Prompt,
		Enhanced:  enhanced,
	})
	writeJSON(w, http.StatusOK, enhanceResponse{RequestID: id, Original: req.Prompt, Enhanced: enhanced})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if len(req.Prompts) > maxBatchPrompts {
		writeError(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "too many prompts"})
		return
	}

	pool, _, release := s.acquire()
	var results []string
	if req.Concurrent {
		results = pool.EnhanceConcurrent(r.Context(), req.Prompts)
	} else {
		results = pool.Client(0).BatchEnhance(r.Context(), req.Prompts)
	}
	client := pool.Client(0)
	release()

	// Per item errors aren't surfaced by a batch, an unchanged prompt is
	// recorded as a fallback.
	convs := make([]*promptenhance.Conversion, len(results))
	for i := range results {
		convs[i] = &promptenhance.Conversion{
			RequestID: uuid.NewString(),
			Backend:   client.Name(),
			Model:     client.Model(),
			Original:  req.Prompts[i],
			Enhanced:  results[i],
			Fallback:  results[i] == req.Prompts[i],
		}
	}
	s.record(r.Context(), convs...)
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pool, cfg, release := s.acquire()
	defer release()

	resp := healthResponse{
		Status:   "ok",
		Backend:  cfg.Ollama.API,
		Model:    cfg.Ollama.Model,
		Endpoint: cfg.Ollama.BaseURL(),
		PoolSize: pool.Size(),
	}
	status := http.StatusOK
	if !pool.TestConnection(r.Context()) {
		resp.Status = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_, cfg, release := s.acquire()
	release()
	writeJSON(w, http.StatusOK, redact(cfg))
}

// handlePatchConfig merges a partial document into the stored settings, saves
// them and swaps in a pool built from the result. In-flight requests finish on
// the old pool before it is closed.
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	s.patchMu.Lock()
	defer s.patchMu.Unlock()

	current, err := s.store.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	fileCfg, err := config.Merge(current, updates)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	cfg, err := config.ApplyEnv(fileCfg, os.LookupEnv)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	pool, err := s.newPool(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if err := s.store.Save(fileCfg); err != nil {
		pool.Close()
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.mu.Lock()
	old := s.current
	s.current = &servingPool{pool: pool, cfg: cfg}
	s.mu.Unlock()
	s.retire(old)
	s.logger.Info("configuration updated",
		slog.String("backend", cfg.Ollama.API),
		slog.String("model", cfg.Ollama.Model),
		slog.Int("pool_size", pool.Size()),
	)
	writeJSON(w, http.StatusOK, redact(cfg))
}

func (s *Server) record(ctx context.Context, convs ...*promptenhance.Conversion) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(ctx, convs...); err != nil {
		s.logger.Warn("could not record history", slog.String("error", err.Error()))
	}
}

func redact(cfg config.Config) config.Config {
	if cfg.Ollama.APIKey != "" {
		cfg.Ollama.APIKey = "********"
	}
	return cfg
}

func writeConfigError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeError(w, http.StatusBadRequest, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp errorResponse) {
	writeJSON(w, status, resp)
}
