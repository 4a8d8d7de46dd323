package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/predictgate/pkg/audit"
	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/fingerprint"
	"github.com/pario-ai/predictgate/pkg/inference"
	"github.com/pario-ai/predictgate/pkg/logging"
	"github.com/pario-ai/predictgate/pkg/metrics"
	"github.com/pario-ai/predictgate/pkg/models"
	"github.com/pario-ai/predictgate/pkg/ratelimit"
	"github.com/pario-ai/predictgate/pkg/ui"
)

// CacheHeader reports whether a prediction was served from cache ("hit") or not ("miss").
const CacheHeader = "X-Predictgate-Cache"

var (
	errCacheUnavailable = errors.New("cache unavailable")
	errInferenceFailed  = errors.New("inference failed")
)

// Server is the predictgate HTTP proxy.
type Server struct {
	cfg       *config.Config
	cache     cache.Store
	predictor inference.Predictor
	limiter   ratelimit.Limiter
	auditor   *audit.Logger
	logger    *slog.Logger
	clientKey ratelimit.KeyFunc

	flights singleflight.Group
	pending sync.WaitGroup

	mux     *http.ServeMux
	handler http.Handler
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithLimiter enables rate limiting of /predict.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithAuditor records every /predict outcome.
func WithAuditor(a *audit.Logger) Option {
	return func(s *Server) { s.auditor = a }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a proxy Server. The cache store and predictor are required.
func New(cfg *config.Config, c cache.Store, p inference.Predictor, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		cache:     c,
		predictor: p,
		clientKey: ratelimit.ClientIP(cfg.RateLimit.TrustForwardedFor),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)

	var predict http.Handler = http.HandlerFunc(s.handlePredict)
	if s.limiter != nil {
		predict = ratelimit.Middleware(s.limiter, ratelimit.Options{
			Key:      s.clientKey,
			Logger:   s.logger,
			OnReject: func(*http.Request) { metrics.IncRateLimited() },
		})(predict)
	}
	s.mux.Handle("/predict", predict)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	if cfg.Metrics.Enabled {
		metrics.Init()
		s.mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	if cfg.UI.Enabled {
		s.mux.Handle("/", ui.Handler())
	}

	s.handler = Chain(s.mux,
		RequestID,
		AccessLog(s.logger, s.clientKey),
		metrics.Middleware(s.routeLabel),
	)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("predictgate listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.Close()
		return err
	case err := <-errCh:
		s.Close()
		return err
	}
}

// Close waits for pending audit writes.
func (s *Server) Close() {
	s.pending.Wait()
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	fp, err := fingerprint.FromJSON(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry := models.AuditEntry{
		RequestID:   RequestIDFromContext(r.Context()),
		Fingerprint: fp,
		Client:      s.clientKey(r),
		RequestBody: string(body),
	}

	output, cached, err := s.lookupOrPredict(r.Context(), fp, body)
	if err != nil {
		message := errInferenceFailed.Error()
		if errors.Is(err, errCacheUnavailable) {
			message = errCacheUnavailable.Error()
		}
		s.logger.Error("predict failed",
			"request_id", entry.RequestID,
			"fingerprint", fp,
			"error", err,
		)
		writeJSONError(w, http.StatusInternalServerError, message)
		entry.StatusCode = http.StatusInternalServerError
		s.audit(entry, start)
		return
	}

	payload, err := json.Marshal(models.PredictResponse{Output: output, Cached: cached})
	if err != nil {
		s.logger.Error("encode response", "request_id", entry.RequestID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "invalid inference output")
		entry.StatusCode = http.StatusInternalServerError
		s.audit(entry, start)
		return
	}

	if cached {
		w.Header().Set(CacheHeader, "hit")
	} else {
		w.Header().Set(CacheHeader, "miss")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)

	entry.StatusCode = http.StatusOK
	entry.Cached = cached
	entry.ResponseBody = string(payload)
	s.audit(entry, start)
}

// lookupOrPredict serves fp from cache, or calls the predictor and stores the
// result. Concurrent misses for the same fingerprint share one call when dedupe is on.
func (s *Server) lookupOrPredict(ctx context.Context, fp string, payload []byte) (json.RawMessage, bool, error) {
	stored, err := s.cacheGet(ctx, fp)
	switch {
	case err == nil:
		metrics.IncCacheHit()
		return json.RawMessage(stored), true, nil
	case !errors.Is(err, cache.ErrNotFound):
		metrics.IncCacheError()
		return nil, false, fmt.Errorf("%w: %w", errCacheUnavailable, err)
	}
	metrics.IncCacheMiss()

	if !s.cfg.Proxy.Dedupe {
		out, err := s.predictAndStore(ctx, fp, payload)
		return out, false, err
	}

	// The shared call must outlive any single caller's cancellation; the
	// inference timeout and retry policy bound it instead.
	ch := s.flights.DoChan(fp, func() (any, error) {
		return s.predictAndStore(context.WithoutCancel(ctx), fp, payload)
	})
	select {
	case res := <-ch:
		if res.Shared {
			metrics.IncDeduped()
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(json.RawMessage), false, nil
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%w: %w", errInferenceFailed, ctx.Err())
	}
}

func (s *Server) predictAndStore(ctx context.Context, fp string, payload []byte) (json.RawMessage, error) {
	start := time.Now()
	out, err := s.predictor.Predict(ctx, payload)
	if err != nil {
		metrics.ObserveInference("error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", errInferenceFailed, err)
	}
	metrics.ObserveInference("ok", time.Since(start))

	if err := s.cacheSet(ctx, fp, out); err != nil {
		return nil, fmt.Errorf("%w: %w", errCacheUnavailable, err)
	}
	s.logger.Debug("prediction cached", "fingerprint", fp, "ttl", s.cfg.Cache.TTL)
	return out, nil
}

func (s *Server) cacheGet(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.cacheContext(ctx)
	defer cancel()
	return s.cache.Get(ctx, key)
}

func (s *Server) cacheSet(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.cacheContext(ctx)
	defer cancel()
	return s.cache.Set(ctx, key, value, s.cfg.Cache.TTL)
}

func (s *Server) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Cache.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Cache.OpTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) audit(entry models.AuditEntry, start time.Time) {
	if s.auditor == nil {
		return
	}
	entry.LatencyMs = time.Since(start).Milliseconds()
	entry.CreatedAt = time.Now().UTC()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.auditor.Log(context.Background(), entry); err != nil {
			s.logger.Error("audit log error", "request_id", entry.RequestID, "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the cache backend answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	_, err := s.cacheGet(r.Context(), "readyz")
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "cache unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// routeLabel keeps the metrics route label bounded.
func (s *Server) routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/predict", "/healthz", "/readyz", "/":
		return r.URL.Path
	case s.cfg.Metrics.Path:
		return "metrics"
	default:
		return "other"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"predictgate_error","code":%d}}`, message, code)
}
