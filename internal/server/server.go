// Package server exposes the analyzer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mickamy/rockscope/internal/analyzer"
	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
)

// RequestIDHeader carries the per-request id on responses.
const RequestIDHeader = "X-Request-ID"

const shutdownTimeout = 10 * time.Second

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	ProfileText string `json:"profile_text"`
}

// Response is the envelope of every API answer.
type Response struct {
	Success bool                  `json:"success"`
	Data    *model.AnalysisResult `json:"data,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Server serves the analysis API.
type Server struct {
	logger   *zap.Logger
	cfg      config.ServerConfig
	analyzer *analyzer.Analyzer
	cache    *ttlcache.Cache[uint64, *model.AnalysisResult]
	metrics  *metrics
	handler  http.Handler
}

// New wires the routes and middleware. A nil logger discards.
func New(logger *zap.Logger, a *analyzer.Analyzer, cfg config.ServerConfig) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:   logger.Named("server"),
		cfg:      cfg,
		analyzer: a,
		cache: ttlcache.New(
			ttlcache.WithTTL[uint64, *model.AnalysisResult](cfg.CacheTTL),
			ttlcache.WithCapacity[uint64, *model.AnalysisResult](cfg.CacheSize),
		),
		metrics: newMetrics(),
	}

	r := mux.NewRouter()
	r.Use(requestID)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/analyze", s.analyze).Methods(http.MethodPost)
	r.HandleFunc("/analyze-file", s.analyzeFile).Methods(http.MethodPost)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	access := zap.NewStdLog(s.logger.Named("access")).Writer()
	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.CombinedLoggingHandler(access, h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger.Named("recovery"))),
	)(h)
	s.handler = h
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.cache.Start()
		return nil
	})
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer s.cache.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown timed out, forcing close", zap.Error(err))
			_ = srv.Close()
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	s.metrics.requests.WithLabelValues("health", "200").Inc()
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	const route = "analyze"
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, route, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.ProfileText == "" {
		s.fail(w, route, "profile_text is required")
		return
	}
	s.respond(w, r, route, req.ProfileText)
}

func (s *Server) analyzeFile(w http.ResponseWriter, r *http.Request) {
	const route = "analyze_file"
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			s.fail(w, route, "No file provided")
			return
		}
		s.fail(w, route, fmt.Sprintf("invalid upload: %v", err))
		return
	}
	defer func() { _ = file.Close() }()

	raw, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, route, fmt.Sprintf("read upload: %v", err))
		return
	}
	if !utf8.Valid(raw) {
		s.fail(w, route, "Invalid UTF-8 in uploaded file")
		return
	}
	s.respond(w, r, route, string(raw))
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, route, text string) {
	start := time.Now()
	defer func() {
		s.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	key := xxhash.Sum64String(text)
	if item := s.cache.Get(key); item != nil {
		s.metrics.analyses.WithLabelValues("cached").Inc()
		s.write(w, route, http.StatusOK, Response{Success: true, Data: item.Value()})
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), text)
	if err != nil {
		s.metrics.analyses.WithLabelValues("error").Inc()
		s.logger.Info("analysis failed",
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
			zap.Error(err),
		)
		s.fail(w, route, err.Error())
		return
	}
	s.cache.Set(key, result, ttlcache.DefaultTTL)
	s.metrics.analyses.WithLabelValues("ok").Inc()
	s.metrics.hotspots.Observe(float64(len(result.Hotspots)))
	s.write(w, route, http.StatusOK, Response{Success: true, Data: result})
}

func (s *Server) fail(w http.ResponseWriter, route, msg string) {
	s.write(w, route, http.StatusBadRequest, Response{Success: false, Error: msg})
}

func (s *Server) write(w http.ResponseWriter, route string, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("write response", zap.String("route", route), zap.Error(err))
	}
	s.metrics.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
