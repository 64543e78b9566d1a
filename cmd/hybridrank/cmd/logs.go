package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrank/internal/logging"
)

type logsOptions struct {
	lines int
	level string
	event string
	file  string
}

func newLogsCmd(g *globalOptions) *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log entries",
		Long: `Show the last entries of the hybridrank log file.

Examples:
  hybridrank logs
  hybridrank logs -n 200 --level warn
  hybridrank logs --event retrieve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file := opts.file
			if file == "" {
				file = g.logFile
			}
			path, err := logging.FindLogFile(file)
			if err != nil {
				return err
			}
			entries, err := logging.Tail(path, opts.lines, logging.Filter{MinLevel: opts.level, Event: opts.event})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range entries {
				_, _ = fmt.Fprintln(w, logging.Format(e))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to read from the end of the file")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.event, "event", "", "Keep entries whose message contains this text")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: --log-file or ~/.hybridrank/logs/hybridrank.log)")

	return cmd
}
