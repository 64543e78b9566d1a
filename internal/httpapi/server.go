// Package httpapi serves the retrieval pipeline as a small JSON API.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/telemetry"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
	"github.com/Aman-CERP/hybridrank/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// Retriever runs one query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]ensemble.RankedResult, error)
}

// StatsProvider reports index statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (retrieve.IndexStats, error)
}

// RetrieveRequest is the body of POST /v1/retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RetrieveResponse is the body of a successful POST /v1/retrieve.
type RetrieveResponse struct {
	Query   string                  `json:"query"`
	Results []ensemble.RankedResult `json:"results"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Index   *retrieve.IndexStats `json:"index,omitempty"`
	Metrics *telemetry.Snapshot  `json:"metrics,omitempty"`
	Version string               `json:"version"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the hybridrank error code.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Server is the HTTP front end.
type Server struct {
	echo      *echo.Echo
	retriever Retriever
	stats     StatsProvider
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStats adds index statistics to GET /v1/stats.
func WithStats(p StatsProvider) Option {
	return func(s *Server) { s.stats = p }
}

// WithMetrics adds the telemetry snapshot to GET /v1/stats.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server over retriever.
func NewServer(retriever Retriever, opts ...Option) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	s := &Server{retriever: retriever, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64("latency_ms", v.Latency.Milliseconds()),
			}
			if v.Error != nil {
				s.logger.Warn("http_request_failed", append(attrs, slog.String("error", v.Error.Error()))...)
				return nil
			}
			s.logger.Info("http_request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/retrieve", s.handleRetrieve)
	e.GET("/v1/stats", s.handleStats)

	s.echo = e
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_starting", slog.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http_server_stopped")
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, amerrors.New(amerrors.ErrCodeInvalidInput, "request body must be JSON", err))
	}
	if req.TopK < 0 {
		return s.writeError(c, amerrors.New(amerrors.ErrCodeInvalidTopK, "top_k must not be negative", nil))
	}

	results, err := s.retriever.Retrieve(c.Request().Context(), req.Query, req.TopK)
	if err != nil {
		return s.writeError(c, err)
	}
	if results == nil {
		results = []ensemble.RankedResult{}
	}
	return c.JSON(http.StatusOK, RetrieveResponse{Query: req.Query, Results: results})
}

func (s *Server) handleStats(c echo.Context) error {
	resp := StatsResponse{Version: version.Version}
	if s.stats != nil {
		st, err := s.stats.Stats(c.Request().Context())
		if err != nil {
			return s.writeError(c, err)
		}
		resp.Index = &st
	}
	if s.metrics != nil {
		resp.Metrics = s.metrics.Snapshot()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) writeError(c echo.Context, err error) error {
	ae := amerrors.FromStageError(err)
	status := StatusFor(ae)
	s.logger.Warn("http_handler_failed",
		slog.String("path", c.Path()),
		slog.String("error_code", ae.Code),
		slog.Int("status", status),
		slog.String("error", err.Error()))
	return c.JSON(status, ErrorBody{Error: ErrorDetail{
		Code:       ae.Code,
		Message:    ae.Message,
		Suggestion: ae.Suggestion,
	}})
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(ae *amerrors.AmanError) int {
	switch ae.Code {
	case amerrors.ErrCodeIndexMissing, amerrors.ErrCodeCorruptIndex, amerrors.ErrCodeDimensionMismatch:
		return http.StatusServiceUnavailable
	case amerrors.ErrCodeIdentityIntegrity:
		return http.StatusInternalServerError
	case amerrors.ErrCodeNetworkTimeout, amerrors.ErrCodeCircuitOpen:
		return http.StatusGatewayTimeout
	case amerrors.ErrCodeSearchFailed, amerrors.ErrCodeRerankFailed,
		amerrors.ErrCodeEmbeddingFailed, amerrors.ErrCodeNetworkUnavailable, amerrors.ErrCodeRegistryFailed:
		return http.StatusBadGateway
	}
	if ae.Category == amerrors.CategoryValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
