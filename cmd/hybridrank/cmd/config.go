package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/hybridrank/configs"
	"github.com/Aman-CERP/hybridrank/internal/config"
	"github.com/Aman-CERP/hybridrank/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage hybridrank configuration.

Configuration is merged from defaults, ~/.config/hybridrank/config.yaml,
.hybridrank.yaml in the project directory and HYBRIDRANK_* environment
variables, in increasing precedence.`,
	}

	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd(g))
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force bool
	var user bool
	var resolved bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file",
		Long: `Write a commented configuration template to .hybridrank.yaml, or to the
user config with --user. With --resolved the file holds every setting as
currently loaded instead of the template.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			path := filepath.Join(g.dir, config.ProjectConfigName)
			if user {
				path = config.GetUserConfigPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite; a backup is kept)", path)
			}
			backup, err := config.BackupFile(path)
			if err != nil {
				return err
			}

			if resolved {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				if err := cfg.WriteYAML(path); err != nil {
					return err
				}
			} else if err := writeTemplate(path); err != nil {
				return err
			}
			if backup != "" {
				out.Statusf("", "Previous config saved to %s", backup)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&resolved, "resolved", false, "Write the effective settings instead of the commented template")
	return cmd
}

func writeTemplate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.Template), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
}

func newConfigPathCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "user:    %s\n", config.GetUserConfigPath())
			_, _ = fmt.Fprintf(w, "project: %s\n", filepath.Join(g.dir, config.ProjectConfigName))
			return nil
		},
	}
}
