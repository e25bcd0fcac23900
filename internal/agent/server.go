// Package agent hosts the error-analyzer MCP server: the diagnostics
// tools exposed to an LLM agent over stdio or streamable HTTP.
package agent

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/diagnostics"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/observability"
)

const (
	serverName    = "idp-error-analyzer"
	serverVersion = "1.0.0"
)

// Store is the tracking-table surface the tools need.
type Store interface {
	GetDocument(ctx context.Context, objectKey string) (*tracking.DocumentRecord, bool, error)
	DescribeTable(ctx context.Context) (*tracking.TableInfo, error)
}

// Server hosts the MCP tool server.
type Server struct {
	mcpServer *mcp.Server
	analyzer  *diagnostics.Analyzer
	store     Store
	stackName string
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// New creates the server and registers every diagnostic tool.
func New(analyzer *diagnostics.Analyzer, store Store, stackName string, metrics *observability.Metrics, logger *zap.Logger) *Server {
	server := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, &mcp.ServerOptions{}),
		analyzer:  analyzer,
		store:     store,
		stackName: stackName,
		metrics:   metrics,
		logger:    logger,
	}
	server.registerTools()
	return server
}

// ServeStdio runs the MCP server over stdio until the context ends.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio", zap.String("stack", s.stackName))
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// ServeHTTP runs the MCP server over streamable HTTP, with health and
// metrics endpoints alongside.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving MCP over HTTP", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// requestLogger logs each HTTP request with its status and latency. The
// request ID is echoed back so clients can correlate against the logs.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.Info("HTTP request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.Status()),
			zap.Duration("duration", time.Since(started)),
		)
	})
}
