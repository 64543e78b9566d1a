package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrank/internal/config"
	"github.com/Aman-CERP/hybridrank/internal/httpapi"
	"github.com/Aman-CERP/hybridrank/internal/mcp"
	"github.com/Aman-CERP/hybridrank/internal/retrieve"
)

const telemetryFlushInterval = time.Minute

type serveOptions struct {
	transport string
	addr      string
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval over MCP (stdio) or HTTP",
		Long: `Serve the retrieval pipeline.

The stdio transport speaks the Model Context Protocol and exposes the
'retrieve' and 'index_status' tools plus a metrics resource. Logs go to the
log file only, since stdout carries the protocol.

The http transport serves:
  POST /v1/retrieve   {"query": "...", "top_k": 5}
  GET  /v1/stats
  GET  /healthz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if opts.transport != "" {
				cfg.Server.Transport = opts.transport
			}
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}
			if cfg.Server.LogLevel != "" && !g.debug {
				g.stopLogging()
				g.logLevel = cfg.Server.LogLevel
				if err := g.setupLogging(cmd); err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport: stdio or http (default: server.transport)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address for http (default: server.addr)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if t := cfg.Server.Transport; t != "stdio" && t != "http" {
		return fmt.Errorf("unknown transport %q (expected stdio or http)", t)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, closeMetrics := openTelemetry(cfg, telemetryFlushInterval)
	defer closeMetrics()

	logger := slog.Default()
	pipelineOpts := []retrieve.OpenOption{retrieve.WithPipelineLogger(logger)}
	if metrics != nil {
		pipelineOpts = append(pipelineOpts, retrieve.WithPipelineObserver(metrics))
	}
	p, err := retrieve.Open(ctx, cfg, pipelineOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	switch cfg.Server.Transport {
	case "stdio":
		opts := []mcp.Option{mcp.WithLogger(logger), mcp.WithStats(p)}
		if metrics != nil {
			opts = append(opts, mcp.WithMetrics(metrics))
		}
		srv, err := mcp.NewServer(p, opts...)
		if err != nil {
			return err
		}
		return srv.Serve(ctx, "stdio")
	default:
		opts := []httpapi.Option{httpapi.WithLogger(logger), httpapi.WithStats(p)}
		if metrics != nil {
			opts = append(opts, httpapi.WithMetrics(metrics))
		}
		srv, err := httpapi.NewServer(p, opts...)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	}
}
