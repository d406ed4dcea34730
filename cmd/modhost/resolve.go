// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/modhost/internal/host"
	"github.com/invowk/modhost/internal/issue"
	"github.com/invowk/modhost/pkg/modlock"
	"github.com/invowk/modhost/pkg/modsys"
)

type resolveFlagValues struct {
	locked    bool
	writeLock bool
	lockFile  string
}

// newResolveCommand creates the `modhost resolve` command.
func newResolveCommand(app *App, rootFlags *rootFlagValues) *cobra.Command {
	flags := &resolveFlagValues{}

	cmd := &cobra.Command{
		Use:   "resolve [name[@constraint]...]",
		Short: "Resolve root modules and their imports",
		Long: `Resolve root modules and everything they import.

Without arguments the roots listed in the configuration are resolved. Roots
resolve concurrently on one engine, so modules they share are initialized
once.

Examples:
  modhost resolve                      Resolve the configured roots
  modhost resolve app@^1.0.0 tools     Resolve two roots
  modhost resolve --write-lock         Record the resolved versions
  modhost resolve --locked             Replay the recorded versions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.startSession(cmd, rootFlags)
			if err != nil {
				return err
			}
			return runResolve(cmd.Context(), s, flags, args)
		},
	}

	cmd.Flags().BoolVar(&flags.locked, "locked", false, "pin imports to the versions recorded in the lock file")
	cmd.Flags().BoolVar(&flags.writeLock, "write-lock", false, "write the resolved versions to the lock file")
	cmd.Flags().StringVar(&flags.lockFile, "lock-file", "", "lock file path (default is lock_file from the configuration)")

	return cmd
}

func runResolve(ctx context.Context, s *session, flags *resolveFlagValues, args []string) error {
	roots, err := s.roots(args)
	if err != nil {
		return s.fail(err)
	}
	repos, err := s.openRepositories(ctx)
	if err != nil {
		return s.fail(err)
	}

	lockPath := flags.lockFile
	if lockPath == "" {
		lockPath = s.cfg.LockFile
	}

	var opts []modsys.Option
	var lock *modlock.Lock
	if flags.locked {
		lock, err = modlock.Read(lockPath)
		if err != nil {
			return s.fail(issue.NewErrorContext().
				WithOperation("read lock file").
				WithResource(lockPath).
				WithSuggestion("Run 'modhost resolve --write-lock' to create it").
				Wrap(err).
				BuildError())
		}
		opts = append(opts, modsys.WithDefaultOverridePolicy(lock.Policy()))
	}

	engine, err := s.newEngine(ctx, opts...)
	if err != nil {
		return s.fail(err)
	}
	defer engine.Close()

	if lock != nil {
		if err := modlock.Register(engine.Registry(), lock); err != nil {
			return s.fail(err)
		}
	}

	h := host.New(engine, repos, roots, s.logger)
	statuses, err := h.ResolveAll(ctx)
	if err != nil {
		return err
	}

	failed := printStatuses(s.app.stdout, statuses)
	for _, st := range statuses {
		if st.Err != nil {
			s.explain(st.Err)
			break
		}
	}

	if flags.writeLock {
		if failed > 0 {
			fmt.Fprintf(s.app.stderr, "%s lock file not written: %d root(s) failed\n", WarningStyle.Render("!"), failed)
		} else if err := writeLock(s, statuses, lockPath); err != nil {
			return s.fail(err)
		}
	}

	if failed > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d root(s) failed to resolve", failed, len(statuses))}
	}
	return nil
}

func writeLock(s *session, statuses []host.Status, path string) error {
	mods := make([]*modsys.Module, 0, len(statuses))
	for _, st := range statuses {
		mods = append(mods, st.Module)
	}
	lock, err := modlock.FromModules(mods)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("build lock file").
			WithSuggestion("Constrain the roots so they agree on one version of every module").
			Wrap(err).
			BuildError()
	}
	if err := lock.Write(path); err != nil {
		return issue.WrapWithContext(err, "write lock file", path)
	}
	fmt.Fprintf(s.app.stdout, "%s wrote %s (%d modules)\n", SuccessStyle.Render("✓"), path, len(lock.Modules))
	return nil
}

// printStatuses writes one line per root and the visible imports of every
// resolved root. It returns the number of failed roots.
func printStatuses(w io.Writer, statuses []host.Status) int {
	failed := 0
	for _, st := range statuses {
		if st.Module == nil {
			failed++
			fmt.Fprintf(w, "%s %s %s\n", ErrorStyle.Render("✗"), ModuleStyle.Render(string(st.Root.Spec)), VerboseStyle.Render(errorSummary(st.Err)))
			continue
		}
		inst := st.Module.Instance()
		style, mark := stateStyle(inst.State())
		fmt.Fprintf(w, "%s %s %s\n", style.Render(mark), ModuleStyle.Render(inst.Name()), SubtitleStyle.Render(inst.State().String()))

		visible := inst.VisibleImports()
		if len(visible) == 0 {
			continue
		}
		names := make([]string, len(visible))
		for i, v := range visible {
			names[i] = v.Name()
		}
		fmt.Fprintf(w, "    %s %s\n", SubtitleStyle.Render("visible:"), strings.Join(names, ", "))
	}
	return failed
}

func errorSummary(err error) string {
	if err == nil {
		return "not resolved"
	}
	return err.Error()
}

// resolveSingle resolves one module named by spec. A non-nil engine is
// returned with the error too and must be closed by the caller.
func resolveSingle(ctx context.Context, s *session, spec string) (*modsys.Module, *modsys.Engine, error) {
	roots, err := s.roots([]string{spec})
	if err != nil {
		return nil, nil, err
	}
	repos, err := s.openRepositories(ctx)
	if err != nil {
		return nil, nil, err
	}
	engine, err := s.newEngine(ctx)
	if err != nil {
		return nil, nil, err
	}

	statuses, err := host.New(engine, repos, roots, s.logger).ResolveAll(ctx)
	if err != nil {
		return nil, engine, err
	}
	st := statuses[0]
	if st.Err != nil {
		ae := issue.ResolutionError(st.Err, spec)
		if !ae.HasSuggestions() {
			ae.Suggestions = append(ae.Suggestions, "Run 'modhost validate' to list the known definitions")
		}
		return nil, engine, ae
	}
	return st.Module, engine, nil
}
