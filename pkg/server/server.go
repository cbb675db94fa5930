// Package server exposes the threat scorer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hed1ad/nidsguard/pkg/artifacts"
	"github.com/hed1ad/nidsguard/pkg/features"
	"github.com/hed1ad/nidsguard/pkg/scorer"
)

// maxBodyBytes bounds a /predict request body.
const maxBodyBytes = 1 << 20

// ErrNoModelsDir is returned by Reload when the server was built without a
// models directory.
var ErrNoModelsDir = errors.New("no models directory configured")

// Server serves predictions from a loaded model bundle. The bundle can be
// swapped at runtime with Reload.
type Server struct {
	dir        string
	logger     *slog.Logger
	scorerOpts []scorer.Option
	registry   *prometheus.Registry
	qps        float64
	burst      int

	current atomic.Pointer[model]
	reloads singleflight.Group
	limiter *limiter
	metrics *metrics
	handler http.Handler
}

type model struct {
	scorer   *scorer.Scorer
	manifest artifacts.Manifest
	loadedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithModelsDir sets the directory Reload reads the bundle from.
func WithModelsDir(dir string) Option {
	return func(s *Server) {
		s.dir = dir
	}
}

// WithRateLimit limits /predict requests per client IP. Zero qps disables it.
func WithRateLimit(qps float64, burst int) Option {
	return func(s *Server) {
		s.qps = qps
		s.burst = burst
	}
}

// WithScorerOptions passes options to every scorer the server builds.
func WithScorerOptions(opts ...scorer.Option) Option {
	return func(s *Server) {
		s.scorerOpts = append(s.scorerOpts, opts...)
	}
}

// WithRegistry registers the server metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// New creates a server for a bundle.
func New(bundle *artifacts.Bundle, opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	m, err := s.build(bundle)
	if err != nil {
		return nil, err
	}
	s.current.Store(m)

	s.metrics, err = newMetrics(s.registry)
	if err != nil {
		return nil, err
	}
	if s.qps > 0 {
		s.limiter = newLimiter(s.qps, s.burst)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /predict", s.instrument("predict", s.limit(http.HandlerFunc(s.handlePredict))))
	mux.Handle("GET /healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("POST /reload", s.instrument("reload", http.HandlerFunc(s.handleReload)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.handler = mux

	return s, nil
}

func (s *Server) build(bundle *artifacts.Bundle) (*model, error) {
	if bundle == nil {
		return nil, errors.New("nil bundle")
	}
	sc, err := bundle.NewScorer(append([]scorer.Option{scorer.WithLogger(s.logger)}, s.scorerOpts...)...)
	if err != nil {
		return nil, err
	}
	return &model{scorer: sc, manifest: bundle.Manifest, loadedAt: time.Now().UTC()}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Manifest describes the bundle currently serving.
func (s *Server) Manifest() artifacts.Manifest {
	return s.current.Load().manifest
}

// Reload reads the bundle from the models directory and swaps it in.
// Concurrent calls share one load. On failure the current bundle keeps serving.
func (s *Server) Reload(ctx context.Context) (artifacts.Manifest, error) {
	if s.dir == "" {
		return artifacts.Manifest{}, ErrNoModelsDir
	}

	ch := s.reloads.DoChan("reload", func() (interface{}, error) {
		bundle, err := artifacts.Load(s.dir)
		if err != nil {
			return nil, err
		}
		m, err := s.build(bundle)
		if err != nil {
			return nil, err
		}
		s.current.Store(m)
		return m.manifest, nil
	})

	select {
	case <-ctx.Done():
		return artifacts.Manifest{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.metrics.reloads.WithLabelValues("error").Inc()
			s.logger.Error("model reload failed", slog.String("dir", s.dir), slog.Any("error", res.Err))
			return artifacts.Manifest{}, res.Err
		}
		manifest := res.Val.(artifacts.Manifest)
		s.metrics.reloads.WithLabelValues("ok").Inc()
		s.logger.Info("model reloaded",
			slog.String("dir", s.dir),
			slog.String("fingerprint", manifest.SchemaFingerprint),
			slog.Int("features", manifest.NumFeatures))
		return manifest, nil
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var rec features.Record
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	p, err := s.current.Load().scorer.Score(&rec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, features.ErrSchemaMismatch) {
			status = http.StatusBadRequest
		}
		s.logger.Warn("scoring failed", slog.Any("error", err))
		writeError(w, status, err)
		return
	}

	s.metrics.observe(p)
	writeJSON(w, http.StatusOK, p)
}

type health struct {
	Status      string    `json:"status"`
	Classes     []string  `json:"classes"`
	NumFeatures int       `json:"num_features"`
	Fingerprint string    `json:"schema_fingerprint"`
	TrainedAt   time.Time `json:"trained_at"`
	LoadedAt    time.Time `json:"loaded_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.current.Load()
	writeJSON(w, http.StatusOK, health{
		Status:      "ok",
		Classes:     m.manifest.Classes,
		NumFeatures: m.manifest.NumFeatures,
		Fingerprint: m.manifest.SchemaFingerprint,
		TrainedAt:   m.manifest.CreatedAt,
		LoadedAt:    m.loadedAt,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.Reload(r.Context())
	switch {
	case errors.Is(err, ErrNoModelsDir):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, manifest)
	}
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			s.logger.Debug("rate limited", slog.String("client", ip))
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
