// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/modhost/internal/issue"
	"github.com/invowk/modhost/pkg/modsys"
)

// newLookupCommand creates the `modhost lookup` command.
func newLookupCommand(app *App, rootFlags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <name[@constraint]> <class-or-resource>",
		Short: "Show which module serves a name",
		Long: `Resolve a module and load a name through its loader.

A name is served by the first visible import exporting it, else by the
module's own content. For a class the defining module and code source are
shown; a name that is not a class is looked up as a resource.

Examples:
  modhost lookup app lib.api.Client
  modhost lookup app lib/api/schema.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.startSession(cmd, rootFlags)
			if err != nil {
				return err
			}

			mod, engine, err := resolveSingle(cmd.Context(), s, args[0])
			if engine != nil {
				defer engine.Close()
			}
			if err != nil {
				return s.fail(err)
			}
			return s.lookup(mod, args[1])
		},
	}
}

func (s *session) lookup(mod *modsys.Module, name string) error {
	w := s.app.stdout
	loader := mod.Loader()

	if exporter := loader.FindExporter(name); exporter != nil {
		fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("exported by:"), ModuleStyle.Render(exporter.Name()))
	}

	class, err := loader.LoadClass(name)
	if err == nil {
		fmt.Fprintf(w, "%s %s %s %s\n", SuccessStyle.Render("✓"), ModuleStyle.Render(class.Name), SubtitleStyle.Render("defined by"), ModuleStyle.Render(class.Loader.Instance().Name()))
		fmt.Fprintf(w, "    %s %s\n", SubtitleStyle.Render("package:"), class.Package)
		fmt.Fprintf(w, "    %s %s\n", SubtitleStyle.Render("source:"), class.Source)
		fmt.Fprintf(w, "    %s %d bytes\n", SubtitleStyle.Render("size:"), len(class.Data))
		return nil
	}
	if !errors.Is(err, modsys.ErrClassNotFound) {
		return s.fail(issue.WrapWithContext(err, "load class", name))
	}

	data, resErr := loader.LoadResource(name)
	if resErr != nil {
		return s.fail(issue.NewErrorContext().
			WithOperation("look up name").
			WithResource(name).
			WithSuggestion("Check that an import of " + mod.String() + " exports the package").
			WithSuggestion("Run 'modhost graph " + mod.Name() + " --visible' to list what the module sees").
			Wrap(err).
			BuildError())
	}
	fmt.Fprintf(w, "%s %s %s %d bytes\n", SuccessStyle.Render("✓"), ModuleStyle.Render(name), SubtitleStyle.Render("resource,"), len(data))
	return nil
}
