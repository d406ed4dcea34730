// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/invowk/modhost/pkg/modsys"
)

// newGraphCommand creates the `modhost graph` command.
func newGraphCommand(app *App, rootFlags *rootFlagValues) *cobra.Command {
	var visible bool

	cmd := &cobra.Command{
		Use:   "graph <name[@constraint]>",
		Short: "Print the import tree of a module",
		Long: `Resolve a module and print its import tree.

Re-exported imports are marked. A module imported more than once is expanded
only at its first occurrence. With --visible the flat list of modules the
module's loader searches is printed instead, in search order.`,
		Args: cobra.ExactArgs(1),
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

			if visible {
				for _, v := range mod.Instance().VisibleImports() {
					fmt.Fprintln(s.app.stdout, ModuleStyle.Render(v.Name()))
				}
				return nil
			}
			printTree(s.app.stdout, mod.Instance())
			return nil
		},
	}

	cmd.Flags().BoolVar(&visible, "visible", false, "print the visible imports instead of the tree")

	return cmd
}

// printTree writes inst and its imports as an indented tree.
func printTree(w io.Writer, inst *modsys.Instance) {
	seen := map[*modsys.Instance]bool{}
	fmt.Fprintln(w, ModuleStyle.Render(inst.Name()))
	seen[inst] = true
	printChildren(w, inst, "", seen)
}

func printChildren(w io.Writer, inst *modsys.Instance, prefix string, seen map[*modsys.Instance]bool) {
	imports := inst.Imports()
	reexports := inst.Reexports()
	for i, imp := range imports {
		last := i == len(imports)-1
		branch, indent := "├── ", "│   "
		if last {
			branch, indent = "└── ", "    "
		}

		line := prefix + branch + ModuleStyle.Render(imp.Name())
		if i < len(reexports) && reexports[i] {
			line += " " + SubtitleStyle.Render("(reexport)")
		}
		if seen[imp] {
			fmt.Fprintln(w, line+" "+VerboseStyle.Render("(see above)"))
			continue
		}
		fmt.Fprintln(w, line)
		seen[imp] = true
		printChildren(w, imp, prefix+indent, seen)
	}
}
