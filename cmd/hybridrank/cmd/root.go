// Package cmd provides the CLI commands for hybridrank.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrank/internal/config"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/logging"
	"github.com/Aman-CERP/hybridrank/internal/profiling"
	"github.com/Aman-CERP/hybridrank/pkg/version"
)

// globalOptions holds persistent flags shared by all subcommands.
type globalOptions struct {
	dir      string
	debug    bool
	logFile  string
	logLevel string

	profile profiling.Paths

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the hybridrank CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "hybridrank",
		Short: "Hybrid passage retrieval with cross-encoder reranking",
		Long: `hybridrank indexes text passages and answers queries by running keyword
(BM25) and semantic (embedding) search side by side, merging the candidates,
reranking them with a cross-encoder and returning the top passages with their
stable IDs.

  hybridrank index passages.jsonl
  hybridrank search "who made the first transistor radio"
  hybridrank serve                 # MCP over stdio
  hybridrank serve --transport http`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("hybridrank version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory (holds .hybridrank.yaml)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging (also mirrored to stderr)")
	cmd.PersistentFlags().StringVar(&g.logFile, "log-file", "", "Log file (default ~/.hybridrank/logs/hybridrank.log)")

	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write a heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write an execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if err := g.setupLogging(c); err != nil {
			return err
		}
		return g.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		err := g.stopProfiling()
		g.stopLogging()
		return err
	}

	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newStatsCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newLogsCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging installs the default slog logger. Logs go to the file only,
// unless --debug, so stdout stays clean for MCP over stdio.
func (g *globalOptions) setupLogging(c *cobra.Command) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = g.debug
	if g.logFile != "" {
		cfg.FilePath = g.logFile
	}
	switch {
	case g.debug:
		cfg.Level = "debug"
	case g.logLevel != "":
		cfg.Level = g.logLevel
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup
	slog.Debug("command_started", slog.String("command", c.CommandPath()))
	return nil
}

func (g *globalOptions) stopLogging() {
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

func (g *globalOptions) startProfiling() error {
	if !g.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(g.profile)
	if err != nil {
		return err
	}
	g.profiler = s
	slog.Debug("profiling_started",
		slog.String("cpu", g.profile.CPU),
		slog.String("heap", g.profile.Heap),
		slog.String("trace", g.profile.Trace))
	return nil
}

func (g *globalOptions) stopProfiling() error {
	if g.profiler == nil {
		return nil
	}
	err := g.profiler.Stop()
	g.profiler = nil
	if err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	return nil
}

// loadConfig loads the configuration for the project directory.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.dir)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, err.Error(), err).
			WithSuggestion("Check " + config.ProjectConfigName + " or run 'hybridrank config init'")
	}
	return cfg, nil
}

// Execute runs the root command and prints errors with their hints.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err))
	}
	return err
}
