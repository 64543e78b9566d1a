package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/telemetry"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
	"github.com/Aman-CERP/hybridrank/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "hybridrank"

// Tool names.
const (
	ToolRetrieve    = "retrieve"
	ToolIndexStatus = "index_status"
)

// Retriever runs one query. *retrieve.Pipeline implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]ensemble.RankedResult, error)
}

// StatsProvider reports index statistics. *retrieve.Pipeline implements it.
type StatsProvider interface {
	Stats(ctx context.Context) (retrieve.IndexStats, error)
}

// RetrieveInput is the input of the retrieve tool.
type RetrieveInput struct {
	Query string `json:"query" jsonschema:"natural language query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of passages to return; 0 uses the server default"`
}

// RetrieveOutput is the output of the retrieve tool.
type RetrieveOutput struct {
	Query   string                  `json:"query"`
	Results []ensemble.RankedResult `json:"results" jsonschema:"passages in relevance order"`
}

// IndexStatusInput is the (empty) input of the index_status tool.
type IndexStatusInput struct{}

// IndexStatusOutput is the output of the index_status tool.
type IndexStatusOutput struct {
	Index   retrieve.IndexStats `json:"index"`
	Version string              `json:"version"`
}

// Server bridges MCP clients to the retrieval pipeline.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	stats     StatsProvider
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStats enables the index_status tool.
func WithStats(p StatsProvider) Option {
	return func(s *Server) {
		s.stats = p
	}
}

// WithMetrics exposes query telemetry as the hybridrank://metrics resource.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
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

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	if s.metrics != nil {
		s.registerMetricsResource()
	}
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolRetrieve,
		Description: "Hybrid passage retrieval. Runs keyword (BM25) and semantic (embedding) search, " +
			"merges the candidates, reranks them with a cross-encoder and returns the top passages " +
			"with their stable IDs and relevance scores.",
	}, s.retrieveHandler)
	count := 1

	if s.stats != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        ToolIndexStatus,
			Description: "Report passage counts, the embedding model and the reranker behind the retrieve tool.",
		}, s.indexStatusHandler)
		count++
	}
	s.logger.Debug("mcp_tools_registered", slog.Int("count", count))
}

func (s *Server) retrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, err := s.handleRetrieve(ctx, input)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) handleRetrieve(ctx context.Context, input RetrieveInput) (*RetrieveOutput, error) {
	if input.TopK < 0 {
		return nil, NewInvalidParamsError("top_k must not be negative")
	}

	requestID := generateRequestID()
	start := time.Now()
	results, err := s.retriever.Retrieve(ctx, input.Query, input.TopK)
	if err != nil {
		me := MapError(err)
		s.logger.Warn("mcp_retrieve_failed",
			slog.String("request_id", requestID),
			slog.String("error_code", me.ErrorCode),
			slog.String("error", err.Error()))
		return nil, me
	}

	s.logger.Info("mcp_retrieve_complete",
		slog.String("request_id", requestID),
		slog.Int("top_k", input.TopK),
		slog.Int("result_count", len(results)),
		slog.Duration("duration", time.Since(start)))
	if results == nil {
		results = []ensemble.RankedResult{}
	}
	return &RetrieveOutput{Query: input.Query, Results: results}, nil
}

func (s *Server) indexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	st, err := s.stats.Stats(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	return nil, IndexStatusOutput{Index: st, Version: version.Version}, nil
}

// CallTool invokes a tool in process. args are decoded into the tool's input type.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRetrieve:
		var in RetrieveInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleRetrieve(ctx, in)
	case ToolIndexStatus:
		if s.stats == nil {
			break
		}
		_, out, err := s.indexStatusHandler(ctx, nil, IndexStatusInput{})
		if err != nil {
			return nil, err
		}
		return &out, nil
	}
	return nil, MapError(fmt.Errorf("%w: %s", ErrToolNotFound, name))
}

func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// Serve runs the server on transport until ctx is done. Only "stdio" is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))
	if transport != "stdio" {
		return fmt.Errorf("unknown MCP transport: %s (supported: stdio)", transport)
	}

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// generateRequestID creates a short ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
