// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/modhost/internal/host"
	"github.com/invowk/modhost/pkg/moddef"
)

// newValidateCommand creates the `modhost validate` command.
func newValidateCommand(app *App, rootFlags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the repositories and configured roots",
		Long: `Load every module.cue in the configured repositories and report the
definitions found. Each configured root must name a known definition.

Nothing is initialized: module definitions are checked against the schema
and roots are looked up, but imports are not resolved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.startSession(cmd, rootFlags)
			if err != nil {
				return err
			}

			repos, err := s.openRepositories(cmd.Context())
			if err != nil {
				return s.fail(err)
			}
			printRepositories(s, repos)

			if len(s.cfg.Roots) == 0 {
				return nil
			}
			roots, err := s.roots(nil)
			if err != nil {
				return s.fail(err)
			}
			missing := 0
			for _, r := range roots {
				def, err := moddef.Require(repos.Entry(), r.Name, r.Constraint)
				if err != nil {
					missing++
					fmt.Fprintf(s.app.stdout, "%s root %s %s\n", ErrorStyle.Render("✗"), ModuleStyle.Render(string(r.Spec)), VerboseStyle.Render(err.Error()))
					continue
				}
				fmt.Fprintf(s.app.stdout, "%s root %s %s %s\n", SuccessStyle.Render("✓"), ModuleStyle.Render(string(r.Spec)), SubtitleStyle.Render("→"), ModuleStyle.Render(def.ID()))
			}
			if missing > 0 {
				return &ExitError{Code: 1, Err: fmt.Errorf("%d root(s) not found", missing)}
			}
			return nil
		},
	}
}

func printRepositories(s *session, repos *host.Repositories) {
	w := s.app.stdout
	for _, repo := range repos.Dirs() {
		parent := ""
		if p := repo.Parent(); p != nil {
			parent = " " + SubtitleStyle.Render("(parent: "+p.Name()+")")
		}
		fmt.Fprintf(w, "%s %s%s\n", TitleStyle.Render(repo.Name()), SubtitleStyle.Render(repo.Dir()), parent)

		defs := repo.Definitions()
		if len(defs) == 0 {
			fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(no modules)"))
			continue
		}
		for _, def := range defs {
			fmt.Fprintf(w, "  %s %s\n", SuccessStyle.Render("✓"), ModuleStyle.Render(def.ID()))
			if len(def.Imports) > 0 {
				names := make([]string, len(def.Imports))
				for i, imp := range def.Imports {
					names[i] = imp.Name + "@" + imp.Constraint.String()
				}
				fmt.Fprintf(w, "      %s %s\n", SubtitleStyle.Render("imports:"), strings.Join(names, ", "))
			}
			if len(def.Exports) > 0 {
				fmt.Fprintf(w, "      %s %s\n", SubtitleStyle.Render("exports:"), strings.Join(def.Exports, ", "))
			}
			if def.Releasable {
				fmt.Fprintf(w, "      %s\n", VerboseStyle.Render("releasable"))
			}
		}
	}
}
