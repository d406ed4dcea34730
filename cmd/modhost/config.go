// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/modhost/internal/config"
	"github.com/invowk/modhost/internal/issue"
)

// newConfigCommand creates the `modhost config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App, rootFlags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modhost configuration",
		Long: `Manage modhost configuration.

Configuration is stored in:
  - Linux: ~/.config/modhost/config.cue
  - macOS: ~/Library/Application Support/modhost/config.cue
  - Windows: %APPDATA%\modhost\config.cue

A config.cue in the current directory is used when none exists there.
MODHOST_CONFIG names a config file to use instead; --config overrides both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, rootFlags)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init [dir]",
		Short: "Create default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return initConfig(app, dir)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.startSession(cmd, rootFlags)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(s.cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, rootFlags *rootFlagValues) error {
	cfg, path, err := config.LoadWithPath(ctx, config.LoadOptions{ConfigFilePath: rootFlags.configPath})
	if err != nil {
		rendered, _ := issue.Get(issue.ConfigLoadFailedId).Render("dark")
		fmt.Fprint(app.stderr, rendered)
		return err
	}

	keyStyle := ModuleStyle
	valueStyle := SuccessStyle
	w := app.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	if path != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s:\n", keyStyle.Render("repositories"))
	if len(cfg.Repositories) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
	}
	for _, repo := range cfg.Repositories {
		if repo.Parent != "" {
			fmt.Fprintf(w, "  - %s %s (parent: %s)\n", valueStyle.Render(string(repo.Name)), repo.Path, valueStyle.Render(string(repo.Parent)))
		} else {
			fmt.Fprintf(w, "  - %s %s\n", valueStyle.Render(string(repo.Name)), repo.Path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("roots"))
	if len(cfg.Roots) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
	}
	for _, root := range cfg.Roots {
		fmt.Fprintf(w, "  - %s\n", valueStyle.Render(string(root)))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("log_level"), valueStyle.Render(string(cfg.LogLevel)))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("lock_file"), valueStyle.Render(cfg.LockFile))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("ui"))
	fmt.Fprintf(w, "  color_scheme: %s\n", valueStyle.Render(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(w, "  verbose: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.UI.Verbose)))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("serve"))
	fmt.Fprintf(w, "  metrics_bind_address: %s\n", valueStyle.Render(cfg.Serve.MetricsBindAddress))
	fmt.Fprintf(w, "  watch: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.Serve.Watch)))
	fmt.Fprintf(w, "  debounce: %s\n", valueStyle.Render(cfg.Serve.Debounce.String()))

	return nil
}

func initConfig(app *App, dir string) error {
	path, err := config.CreateDefaultConfig(dir)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}
