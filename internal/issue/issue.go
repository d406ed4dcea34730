// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"maps"
	"slices"

	"github.com/charmbracelet/glamour"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/modlock"
	"github.com/invowk/modhost/pkg/modsys"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	RepositoryLoadFailedId
	ModuleNotFoundId
	PolicyContractId
	ImportNotFoundId
	DuplicateImportId
	NamespaceCollisionId
	InitializerFailedId
	RecursiveDependencyId
	SelfImportId
	UnknownHookId
	ModuleReleasedId
	LockFileInvalidId
	ClassNotFoundId
)

type MarkdownMsg string

type Issue struct {
	id    Id          // ID used to lookup the issue
	mdMsg MarkdownMsg // Markdown text that will be rendered
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// Render renders the issue for the terminal. stylePath is a glamour style
// name ("dark", "light", "notty", "auto") or a path to a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	return render(string(i.mdMsg), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the modhost configuration file.

## Configuration file locations:
- ` + "`--config <file>`" + ` when given
- ` + "`$XDG_CONFIG_HOME/modhost/config.cue`" + ` (default ` + "`~/.config/modhost/config.cue`" + `)
- ` + "`config.cue`" + ` in the current directory

## Things you can try:
- Print the effective configuration:
~~~
$ modhost config show
~~~

- Check that every repository has a unique name and that ` + "`parent`" + `
  names a repository listed before it

## Example configuration:
~~~cue
repositories: [
  {name: "base", path: "/opt/modules"},
  {name: "app", path: "./modules", parent: "base"},
]
roots: ["app"]
log_level: "info"
~~~`,
	}

	repositoryLoadFailedIssue = &Issue{
		id: RepositoryLoadFailedId,
		mdMsg: `
# Failed to load a module repository!

A module directory could not be read or its ` + "`module.cue`" + ` is invalid.

## Layout of a repository:
~~~
modules/
  util.modhost/
    module.cue
    content/
      util/Strings
~~~

## Things you can try:
- Check the reported field path in the error above
- Make sure the directory name matches the module name (` + "`util.modhost`" + ` holds ` + "`name: \"util\"`" + `)
- List what loads successfully:
~~~
$ modhost validate
~~~`,
	}

	moduleNotFoundIssue = &Issue{
		id: ModuleNotFoundId,
		mdMsg: `
# Module not found!

No repository holds a module with that name and a matching version.

## Things you can try:
- List the known definitions:
~~~
$ modhost validate
~~~

- Loosen the constraint, e.g. ` + "`app@^1.0.0`" + ` instead of ` + "`app@=1.0.3`" + `
- Check the ` + "`repositories`" + ` entries in your configuration`,
	}

	policyContractIssue = &Issue{
		id: PolicyContractId,
		mdMsg: `
# Policy contract violated!

An override or import policy returned a result the engine cannot accept.

## The contract:
- An override policy returns exactly the import names it was given, and each
  narrowed constraint must admit only versions the declared one admits
- An import policy returns one definition per declared import, in order, each
  with the declared name and a version satisfying the narrowed constraint;
  only optional imports may be left empty

Policies that panic are reported the same way.`,
	}

	importNotFoundIssue = &Issue{
		id: ImportNotFoundId,
		mdMsg: `
# Import not found!

A required import could not be resolved.

## Things you can try:
- Mark the import optional if the module works without it:
~~~cue
imports: [{name: "metrics", version: "^1.0.0", optional: true}]
~~~

- Add a repository holding the module, or loosen the version constraint`,
	}

	duplicateImportIssue = &Issue{
		id: DuplicateImportId,
		mdMsg: `
# Duplicate import!

A module imports the same module name more than once. Each name may appear
only once in ` + "`imports`" + `; merge the entries into one constraint.`,
	}

	namespaceCollisionIssue = &Issue{
		id: NamespaceCollisionId,
		mdMsg: `
# Namespace collision!

Two modules visible to the same importer export the same package, or an import
exports a package the importer itself defines.

## Things you can try:
- Stop reexporting one of the colliding modules
- Rename or stop exporting the shared package in one of them
- Split the importer so that no single module sees both`,
	}

	initializerFailedIssue = &Issue{
		id: InitializerFailedId,
		mdMsg: `
# Initializer failed!

The module's initializer returned an error or panicked. The module was not
started, so its release hook does not run.

Re-run with ` + "`--verbose`" + ` to see the full error chain.`,
	}

	recursiveDependencyIssue = &Issue{
		id: RecursiveDependencyId,
		mdMsg: `
# Recursive dependency!

Policies or initializers of these modules need each other to finish first, so
none of them can.

## Things you can try:
- Resolve the shared module from one side only
- Move the lookup out of the policy or initializer into a plain import`,
	}

	selfImportIssue = &Issue{
		id: SelfImportId,
		mdMsg: `
# Module imports itself!

After following reexports the module would see itself among its own imports.
Remove the reexport that leads back to it.`,
	}

	unknownHookIssue = &Issue{
		id: UnknownHookId,
		mdMsg: `
# Unknown policy or initializer!

The definition names a hook that is not registered with the engine.

## Built-in hooks:
- override policy ` + "`lock`" + `: pins imports to the versions in the lock file

Check the spelling of ` + "`initializer`" + `, ` + "`import_policy`" + ` and ` + "`override_policy`" + `.`,
	}

	moduleReleasedIssue = &Issue{
		id: ModuleReleasedId,
		mdMsg: `
# Module released!

The module instance was torn down because it, or a module it imports, was
released. Resolving it again creates a fresh instance.`,
	}

	lockFileInvalidIssue = &Issue{
		id: LockFileInvalidId,
		mdMsg: `
# Lock file unusable!

The lock file could not be read or does not describe a single consistent
resolution.

## Things you can try:
- Regenerate it:
~~~
$ modhost resolve --write-lock <roots>
~~~`,
	}

	classNotFoundIssue = &Issue{
		id: ClassNotFoundId,
		mdMsg: `
# Name not visible!

No module visible to the requesting module exports the name, and the module's
own content does not define it.

## Things you can try:
- Import the module defining it, or have an import reexport it
- Check that the defining module lists the package in ` + "`exports`" + ``,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():     configLoadFailedIssue,
		repositoryLoadFailedIssue.Id(): repositoryLoadFailedIssue,
		moduleNotFoundIssue.Id():       moduleNotFoundIssue,
		policyContractIssue.Id():       policyContractIssue,
		importNotFoundIssue.Id():       importNotFoundIssue,
		duplicateImportIssue.Id():      duplicateImportIssue,
		namespaceCollisionIssue.Id():   namespaceCollisionIssue,
		initializerFailedIssue.Id():    initializerFailedIssue,
		recursiveDependencyIssue.Id():  recursiveDependencyIssue,
		selfImportIssue.Id():           selfImportIssue,
		unknownHookIssue.Id():          unknownHookIssue,
		moduleReleasedIssue.Id():       moduleReleasedIssue,
		lockFileInvalidIssue.Id():      lockFileInvalidIssue,
		classNotFoundIssue.Id():        classNotFoundIssue,
	}

	kindIssues = map[modsys.Kind]Id{
		modsys.KindPolicyContract:     PolicyContractId,
		modsys.KindResolution:         ImportNotFoundId,
		modsys.KindDuplicateImport:    DuplicateImportId,
		modsys.KindNamespaceCollision: NamespaceCollisionId,
		modsys.KindInitializer:        InitializerFailedId,
		modsys.KindCyclicPolicy:       RecursiveDependencyId,
		modsys.KindSelfImport:         SelfImportId,
		modsys.KindReleased:           ModuleReleasedId,
		modsys.KindUnknownHook:        UnknownHookId,
	}
)

// Values returns every issue ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, id := range slices.Sorted(maps.Keys(issues)) {
		out = append(out, issues[id])
	}
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForError returns the catalog entry explaining err, or nil. A dependency
// failure is explained by the failure of the import that caused it.
func ForError(err error) *Issue {
	if err == nil {
		return nil
	}
	if ie := rootFailure(err); ie != nil {
		if id, ok := kindIssues[ie.Kind]; ok {
			return issues[id]
		}
	}
	switch {
	case errors.Is(err, moddef.ErrDefinitionNotFound):
		return issues[ModuleNotFoundId]
	case errors.Is(err, moddef.ErrInvalidDefinition):
		return issues[RepositoryLoadFailedId]
	case errors.Is(err, modlock.ErrFormatVersion), errors.Is(err, modlock.ErrConflict):
		return issues[LockFileInvalidId]
	case errors.Is(err, modsys.ErrClassNotFound):
		return issues[ClassNotFoundId]
	}
	return nil
}
