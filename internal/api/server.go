package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/accounting"
	"github.com/JakeFAU/docfetch/internal/batch"
	"github.com/JakeFAU/docfetch/internal/config"
	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/metrics"
	"github.com/JakeFAU/docfetch/internal/proxy"
)

// Engine is the slice of the fetch engine the API drives.
type Engine interface {
	RunPending(ctx context.Context, batchID string, pending *batch.PendingSet, cb batch.Callback) (batch.Result, error)
	Stats() accounting.Snapshot
	ProxyPool() *proxy.Pool
}

// Batch states reported by GET /v1/batches/{batch_id}.
const (
	BatchRunning   = "running"
	BatchCompleted = batch.StatusCompleted
	BatchAborted   = batch.StatusAborted
	BatchCanceled  = batch.StatusCanceled
	BatchFailed    = "failed"
)

// BatchStatus is the record kept for each submitted batch.
type BatchStatus struct {
	BatchID   string        `json:"batch_id"`
	Status    string        `json:"status"`
	Added     int           `json:"added"`
	Submitted time.Time     `json:"submitted"`
	Finished  *time.Time    `json:"finished,omitempty"`
	Result    *batch.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Server wires HTTP handlers to the engine.
type Server struct {
	router chi.Router
	engine Engine
	idGen  fetch.IDGenerator
	clock  fetch.Clock
	cfg    config.Config
	logger *zap.Logger

	mu      sync.RWMutex
	batches map[string]*BatchStatus

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	engine Engine,
	idGen fetch.IDGenerator,
	clock fetch.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  engine,
		idGen:   idGen,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		batches: make(map[string]*BatchStatus),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/batches", s.submitBatch)
		r.Get("/batches/{batch_id}", s.getBatch)
		r.Get("/stats", s.stats)
		r.Get("/proxies", s.listProxies)
		r.Post("/proxies", s.addProxy)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels running batches and waits for them to finish, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for batches: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.baseCtx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type batchRequest struct {
	URLs []string `json:"urls"`
	// Wait runs the batch inside the request and returns its result.
	Wait bool `json:"wait"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	batchID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate batch id: %v", err))
		return
	}
	pending := batch.NewPendingSet()
	status := &BatchStatus{
		BatchID:   batchID,
		Status:    BatchRunning,
		Added:     pending.Add(req.URLs...),
		Submitted: s.clock.Now(),
	}
	s.mu.Lock()
	s.batches[batchID] = status
	s.mu.Unlock()

	if req.Wait {
		s.runBatch(r.Context(), batchID, pending)
		st, _ := s.snapshot(batchID)
		writeJSON(w, http.StatusOK, st)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runBatch(s.baseCtx, batchID, pending)
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"batch_id": batchID, "added": status.Added})
}

func (s *Server) runBatch(ctx context.Context, batchID string, pending *batch.PendingSet) {
	res, err := s.engine.RunPending(ctx, batchID, pending, nil)
	finished := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.batches[batchID]
	st.Finished = &finished
	st.Result = &res
	switch {
	case err == nil:
		st.Status = BatchCompleted
	case errors.Is(err, fetch.ErrBatchAborted):
		st.Status = BatchAborted
		st.Error = err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		st.Status = BatchCanceled
		st.Error = err.Error()
	default:
		st.Status = BatchFailed
		st.Error = err.Error()
	}
	s.logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.String("status", st.Status),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
}

func (s *Server) snapshot(batchID string) (BatchStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.batches[batchID]
	if !ok {
		return BatchStatus{}, false
	}
	return *st, true
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	st, ok := s.snapshot(chi.URLParam(r, "batch_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

type proxyState struct {
	Active    bool     `json:"active"`
	Current   string   `json:"current,omitempty"`
	Endpoints []string `json:"endpoints"`
	Evicted   []string `json:"evicted"`
}

func (s *Server) listProxies(w http.ResponseWriter, _ *http.Request) {
	pool := s.engine.ProxyPool()
	state := proxyState{
		Active:    pool.Active(),
		Endpoints: endpointStrings(pool.Endpoints()),
		Evicted:   endpointStrings(pool.Evicted()),
	}
	if cur, ok := pool.Current(); ok {
		state.Current = cur.String()
	}
	writeJSON(w, http.StatusOK, state)
}

type proxyRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) addProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ep, err := proxy.Parse(req.Endpoint)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.engine.ProxyPool().Add(ep) {
		writeError(w, http.StatusConflict, "proxy already known or pool disabled")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"endpoint": ep.String()})
}

func endpointStrings(eps []proxy.Endpoint) []string {
	out := make([]string, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.String())
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
