package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/telemetry"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

type fakeRetriever struct {
	results []ensemble.RankedResult
	err     error
	gotTopK int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]ensemble.RankedResult, error) {
	f.gotTopK = topK
	return f.results, f.err
}

type fakeStats struct{}

func (fakeStats) Stats(context.Context) (retrieve.IndexStats, error) {
	return retrieve.IndexStats{Passages: 3, EmbeddingModel: "static", Reranker: "overlap"}, nil
}

var sample = []ensemble.RankedResult{
	{ID: "tr55", Text: "Sony released the TR-55 in 1955.", Score: 0.91},
	{ID: "walkman", Text: "The Walkman shipped in 1979.", Score: 0.42},
}

func TestNewServer_RequiresRetriever(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestCallTool_Retrieve(t *testing.T) {
	// Given: a server over a retriever with two results
	r := &fakeRetriever{results: sample}
	s, err := NewServer(r)
	require.NoError(t, err)

	// When: calling retrieve in process
	got, err := s.CallTool(context.Background(), ToolRetrieve, map[string]any{"query": "sony", "top_k": 2})

	// Then: results come back in order with their IDs
	require.NoError(t, err)
	out := got.(*RetrieveOutput)
	assert.Equal(t, sample, out.Results)
	assert.Equal(t, 2, r.gotTopK)
}

func TestCallTool_EmptyResultsAreNotNil(t *testing.T) {
	s, err := NewServer(&fakeRetriever{})
	require.NoError(t, err)

	got, err := s.CallTool(context.Background(), ToolRetrieve, map[string]any{"query": "nothing"})

	require.NoError(t, err)
	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"nothing","results":[]}`, string(data))
}

func TestCallTool_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		args     map[string]any
		wantCode int
	}{
		{
			name:     "empty query",
			err:      ensemble.ErrEmptyQuery,
			args:     map[string]any{"query": " "},
			wantCode: ErrCodeInvalidParams,
		},
		{
			name:     "negative top_k",
			args:     map[string]any{"query": "q", "top_k": -1},
			wantCode: ErrCodeInvalidParams,
		},
		{
			name:     "rerank failure",
			err:      &ensemble.StageError{Stage: ensemble.StageRerank, Err: errors.New("503")},
			args:     map[string]any{"query": "q"},
			wantCode: ErrCodeUpstreamFailed,
		},
		{
			name:     "identity fault",
			err:      &ensemble.StageError{Stage: ensemble.StageIdentityResolution, Text: "orphan", Err: ensemble.ErrNotFound},
			args:     map[string]any{"query": "q"},
			wantCode: ErrCodeIntegrity,
		},
		{
			name:     "registry unavailable",
			err:      &ensemble.StageError{Stage: ensemble.StageIdentityResolution, Text: "A", Err: errors.New("sql: database is closed")},
			args:     map[string]any{"query": "q"},
			wantCode: ErrCodeUpstreamFailed,
		},
		{
			name:     "open circuit",
			err:      &ensemble.StageError{Stage: ensemble.StageRerank, Err: amerrors.ErrCircuitOpen},
			args:     map[string]any{"query": "q"},
			wantCode: ErrCodeTimeout,
		},
		{
			name:     "missing index",
			err:      amerrors.New(amerrors.ErrCodeIndexMissing, "no index", nil),
			args:     map[string]any{"query": "q"},
			wantCode: ErrCodeIndexNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(&fakeRetriever{err: tt.err})
			require.NoError(t, err)

			_, err = s.CallTool(context.Background(), ToolRetrieve, tt.args)

			var me *MCPError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.wantCode, me.Code)
		})
	}
}

func TestCallTool_UnknownTool(t *testing.T) {
	s, err := NewServer(&fakeRetriever{})
	require.NoError(t, err)

	_, err = s.CallTool(context.Background(), ToolIndexStatus, nil)

	var me *MCPError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeMethodNotFound, me.Code, "index_status needs a stats provider")
}

func TestCallTool_IndexStatus(t *testing.T) {
	s, err := NewServer(&fakeRetriever{}, WithStats(fakeStats{}))
	require.NoError(t, err)

	got, err := s.CallTool(context.Background(), ToolIndexStatus, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, got.(*IndexStatusOutput).Index.Passages)
}

func TestMapError_Passthrough(t *testing.T) {
	assert.Nil(t, MapError(nil))

	me := NewInvalidParamsError("bad")
	assert.Same(t, me, MapError(me))

	plain := MapError(errors.New("boom"))
	assert.Equal(t, ErrCodeInternalError, plain.Code)
	assert.Equal(t, amerrors.ErrCodeInternal, plain.ErrorCode)
}

// connect runs s over in-memory transports and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestServer_OverProtocol(t *testing.T) {
	// Given: a connected client
	metrics := telemetry.New(nil, telemetry.Config{})
	metrics.ObserveRetrieve(ensemble.Trace{Query: "q", TopK: 5, ResultCount: 0})
	s, err := NewServer(&fakeRetriever{results: sample}, WithStats(fakeStats{}), WithMetrics(metrics))
	require.NoError(t, err)
	cs := connect(t, s)
	ctx := context.Background()

	// When: listing and calling tools
	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolRetrieve, ToolIndexStatus}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolRetrieve,
		Arguments: map[string]any{"query": "sony", "top_k": 2},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	// Then: the structured content carries the ranked results
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out RetrieveOutput
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, sample, out.Results)

	// And: the metrics resource is readable
	rr, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: MetricsURI})
	require.NoError(t, err)
	require.Len(t, rr.Contents, 1)
	var m MetricsOutput
	require.NoError(t, json.Unmarshal([]byte(rr.Contents[0].Text), &m))
	assert.EqualValues(t, 1, m.TotalQueries)
	assert.Equal(t, []string{"q"}, m.ZeroResultQueries)
}

func TestServer_ToolErrorOverProtocol(t *testing.T) {
	s, err := NewServer(&fakeRetriever{err: &ensemble.StageError{Stage: ensemble.StageRerank, Err: errors.New("503")}})
	require.NoError(t, err)
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolRetrieve,
		Arguments: map[string]any{"query": "sony"},
	})

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServe_UnknownTransport(t *testing.T) {
	s, err := NewServer(&fakeRetriever{})
	require.NoError(t, err)
	assert.Error(t, s.Serve(context.Background(), "sse"))
}
