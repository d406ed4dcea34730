// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/invowk/modhost/internal/config"
	"github.com/invowk/modhost/internal/host"
	"github.com/invowk/modhost/internal/issue"
	"github.com/invowk/modhost/pkg/modsys"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives an App and reads configuration through its ConfigProvider.
	App struct {
		Config ConfigProvider
		stdout io.Writer
		stderr io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		Stdout io.Writer
		Stderr io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// rootFlagValues holds the persistent flags of the root command.
	rootFlagValues struct {
		verbose      bool
		configPath   string
		repositories []string
	}

	// session is the per-invocation state derived from flags and configuration.
	session struct {
		app     *App
		cfg     *config.Config
		logger  *log.Logger
		verbose bool
	}
)

// NewApp creates an App, filling nil dependencies with defaults.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}

	return &App{
		Config: deps.Config,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}, nil
}

// startSession is newSession for command handlers: a configuration error is
// explained on stderr before it is returned.
func (a *App) startSession(cmd *cobra.Command, flags *rootFlagValues) (*session, error) {
	s, err := a.newSession(cmd.Context(), flags)
	if err != nil {
		if rendered, renderErr := issue.Get(issue.ConfigLoadFailedId).Render("auto"); renderErr == nil {
			fmt.Fprint(a.stderr, rendered)
		}
		return nil, err
	}
	return s, nil
}

// newSession loads configuration and applies the root flags on top of it.
func (a *App) newSession(ctx context.Context, flags *rootFlagValues) (*session, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		return nil, err
	}

	if len(flags.repositories) > 0 {
		cfg.Repositories = repositoriesFromPaths(flags.repositories)
	}

	verbose := flags.verbose || cfg.UI.Verbose
	level, err := log.ParseLevel(string(cfg.LogLevel))
	if err != nil {
		level = log.WarnLevel
	}
	if verbose {
		level = log.DebugLevel
	}

	return &session{
		app:     a,
		cfg:     cfg,
		logger:  log.NewWithOptions(a.stderr, log.Options{Prefix: config.AppName, Level: level}),
		verbose: verbose,
	}, nil
}

// repositoriesFromPaths chains the given directories: each repository's
// parent is the one before it.
func repositoriesFromPaths(paths []string) []config.RepositoryConfig {
	repos := make([]config.RepositoryConfig, len(paths))
	for i, p := range paths {
		repos[i] = config.RepositoryConfig{
			Name: config.RepositoryName(fmt.Sprintf("%s-%d", filepath.Base(filepath.Clean(p)), i)),
			Path: config.RepositoryPath(p),
		}
		if i > 0 {
			repos[i].Parent = repos[i-1].Name
		}
	}
	return repos
}

// openRepositories opens the configured repository chain.
func (s *session) openRepositories(ctx context.Context) (*host.Repositories, error) {
	repos, err := host.OpenRepositories(ctx, s.cfg.Repositories)
	if err != nil {
		ec := issue.NewErrorContext().
			WithOperation("open repositories").
			Wrap(err)
		if errors.Is(err, host.ErrNoRepositories) {
			ec = ec.WithSuggestion("Add a 'repositories' entry to the configuration").
				WithSuggestion("Or pass a directory with --repository")
		} else {
			ec = ec.WithSuggestion("Run 'modhost validate' to see which module.cue is invalid")
		}
		return nil, ec.BuildError()
	}
	return repos, nil
}

// newEngine creates and starts an engine logging through the session logger.
// The caller must Close it.
func (s *session) newEngine(ctx context.Context, opts ...modsys.Option) (*modsys.Engine, error) {
	all := append([]modsys.Option{modsys.WithLogger(s.logger.WithPrefix("modsys"))}, opts...)
	engine, err := modsys.New(all...)
	if err != nil {
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

// roots returns the roots named on the command line, or the configured roots.
func (s *session) roots(args []string) ([]host.Root, error) {
	specs := s.cfg.Roots
	if len(args) > 0 {
		specs = make([]config.RootSpec, len(args))
		for i, a := range args {
			specs[i] = config.RootSpec(a)
		}
	}
	if len(specs) == 0 {
		return nil, issue.NewErrorContext().
			WithOperation("resolve roots").
			WithSuggestion("Name the modules to resolve, e.g. 'modhost resolve app@^1.0.0'").
			WithSuggestion("Or list them under 'roots' in the configuration").
			Wrap(errors.New("no root modules given")).
			BuildError()
	}
	roots, err := host.ParseRoots(specs)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("parse root").
			WithSuggestion("Use <name> or <name>@<constraint>, e.g. 'app@^1.2'").
			Wrap(err).
			BuildError()
	}
	return roots, nil
}

// glamourStyle maps the configured color scheme to a glamour style name.
func (s *session) glamourStyle() string {
	switch s.cfg.UI.ColorScheme {
	case config.ColorSchemeLight:
		return "light"
	case config.ColorSchemeDark:
		return "dark"
	default:
		return "auto"
	}
}

// explain writes the catalog entry for err to stderr when one exists.
func (s *session) explain(err error) {
	iss := issue.ForError(err)
	if iss == nil {
		return
	}
	rendered, renderErr := iss.Render(s.glamourStyle())
	if renderErr != nil {
		s.logger.Debug("render issue", "err", renderErr)
		return
	}
	fmt.Fprint(s.app.stderr, rendered)
}
