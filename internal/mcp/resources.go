package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MetricsURI is the URI of the query telemetry resource.
const MetricsURI = "hybridrank://metrics"

// MetricsOutput is the JSON body of the metrics resource.
type MetricsOutput struct {
	TotalQueries      int64                       `json:"total_queries"`
	ZeroResultPct     float64                     `json:"zero_result_pct"`
	ZeroResultQueries []string                    `json:"zero_result_queries"`
	FailedByStage     map[string]int64            `json:"failed_by_stage"`
	Latency           map[string]map[string]int64 `json:"latency"`
	ExactRepeats      int64                       `json:"exact_repeats"`
	OverlapRate       float64                     `json:"overlap_rate"`
}

func (s *Server) registerMetricsResource() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "metrics",
		URI:         MetricsURI,
		Description: "Retrieval telemetry for this session: failures by stage, latency buckets, zero-result queries",
		MIMEType:    "application/json",
	}, s.readMetrics)
}

func (s *Server) readMetrics(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	body, err := s.metricsJSON()
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      MetricsURI,
			MIMEType: "application/json",
			Text:     string(body),
		}},
	}, nil
}

func (s *Server) metricsJSON() ([]byte, error) {
	if s.metrics == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}
	snap := s.metrics.Snapshot()
	out := MetricsOutput{
		TotalQueries:      snap.TotalQueries,
		ZeroResultPct:     snap.ZeroResultPercentage(),
		ZeroResultQueries: snap.ZeroResultQueries,
		FailedByStage:     snap.FailedByStage,
		Latency:           make(map[string]map[string]int64, len(snap.Latency)),
		ExactRepeats:      snap.ExactRepeatCount,
		OverlapRate:       snap.OverlapRate,
	}
	for phase, buckets := range snap.Latency {
		m := make(map[string]int64, len(buckets))
		for b, n := range buckets {
			m[string(b)] = n
		}
		out.Latency[phase] = m
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metrics: %w", err)
	}
	return data, nil
}
