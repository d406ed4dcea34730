// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/modhost/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the modhost command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}

	rootCmd := &cobra.Command{
		Use:   "modhost",
		Short: "Resolve and host versioned modules",
		Long: TitleStyle.Render("modhost") + SubtitleStyle.Render(" - Resolve and host versioned modules") + `

modhost turns module definitions (module.cue files in repository
directories) into a graph of initialized module instances. Each module
sees only the packages its imports export.

` + SubtitleStyle.Render("Examples:") + `
  modhost resolve app@^1.0.0     Resolve a module and its imports
  modhost lookup app lib.Client  Show which module serves a name
  modhost graph app              Print the import tree of a module
  modhost validate               Check every module.cue in the repositories
  modhost serve                  Keep the configured roots resolved
  modhost config show            Show the effective configuration`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/modhost/config.cue)")
	rootCmd.PersistentFlags().StringSliceVarP(&flags.repositories, "repository", "r", nil,
		"repository directory; repeat to chain, each one's parent is the previous (replaces configured repositories)")

	rootCmd.AddCommand(newResolveCommand(app, flags))
	rootCmd.AddCommand(newLookupCommand(app, flags))
	rootCmd.AddCommand(newGraphCommand(app, flags))
	rootCmd.AddCommand(newValidateCommand(app, flags))
	rootCmd.AddCommand(newServeCommand(app, flags))
	rootCmd.AddCommand(newConfigCommand(app, flags))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(exitCode(err))
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// fail reports err with its catalog entry and returns it for cobra. In
// verbose mode the full error chain is written first.
func (s *session) fail(err error) error {
	if s.verbose {
		fmt.Fprintln(s.app.stderr, formatErrorForDisplay(err, true))
	}
	s.explain(err)
	return err
}
