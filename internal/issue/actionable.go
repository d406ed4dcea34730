// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/modhost/pkg/modsys"
)

type (
	// ActionableError is an error with context for user-facing error messages.
	// It records what operation failed, what resource was involved, and
	// suggestions for how to fix the issue.
	//
	// Use the ErrorContext builder for convenient construction:
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("resolve module").
	//		WithResource("app@^1.0.0").
	//		WithSuggestion("Run 'modhost validate' to list the known definitions").
	//		Wrap(originalErr).
	//		BuildError()
	ActionableError struct {
		// Operation describes what was being attempted (e.g., "load repository").
		Operation string

		// Resource identifies the file, module or entity involved (optional).
		Resource string

		// Suggestions provides hints on how to fix the issue (optional).
		Suggestions []string

		// Cause is the underlying error (optional).
		Cause error
	}

	// ErrorContext is a builder for ActionableError values.
	ErrorContext struct {
		operation   string
		resource    string
		suggestions []string
		cause       error
	}
)

// kindSuggestions are attached to resolution failures by the kind of their
// root failure.
var kindSuggestions = map[modsys.Kind][]string{
	modsys.KindPolicyContract: {
		"Override policies may only narrow the declared constraints",
		"Import policies must return one definition per declared import, in order",
	},
	modsys.KindResolution: {
		"Run 'modhost validate' to list the known definitions",
		"Widen the import's version constraint or mark it optional",
	},
	modsys.KindDuplicateImport:    {"Declare each import once in module.cue"},
	modsys.KindNamespaceCollision: {"Stop reexporting one of the modules, or move the overlapping package"},
	modsys.KindInitializer:        {"Run with --verbose to see the initializer's error chain"},
	modsys.KindCyclicPolicy:       {"Break the cycle between hooks that resolve each other's modules"},
	modsys.KindSelfImport:         {"Remove the import that leads back to the module"},
	modsys.KindReleased:           {"Resolve the module again"},
	modsys.KindUnknownHook:        {"Register the hook before resolving, or remove it from module.cue"},
}

// NewErrorContext creates a new ErrorContext builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// WrapWithContext wraps an error with operation and resource context.
// It returns nil for a nil err.
func WrapWithContext(err error, operation, resource string) *ActionableError {
	if err == nil {
		return nil
	}
	return &ActionableError{
		Operation: operation,
		Resource:  resource,
		Cause:     err,
	}
}

// ResolutionError describes a failed resolution of resource. Dependency
// failures are followed down to the import that failed first; the
// suggestions and the named modules come from that failure. Errors that
// are not engine failures keep only the operation and resource.
func ResolutionError(err error, resource string) *ActionableError {
	if err == nil {
		return nil
	}
	ae := &ActionableError{Operation: "resolve module", Resource: resource, Cause: err}
	root := rootFailure(err)
	if root == nil {
		return ae
	}
	failed, _, _ := strings.Cut(root.Module, "@")
	requested, _, _ := strings.Cut(resource, "@")
	if failed != "" && failed != requested {
		ae.Suggestions = append(ae.Suggestions, "The failure starts in "+root.Module)
	}
	if len(root.Related) > 1 {
		ae.Suggestions = append(ae.Suggestions, "Modules involved: "+strings.Join(root.Related, ", "))
	}
	ae.Suggestions = append(ae.Suggestions, kindSuggestions[root.Kind]...)
	return ae
}

// rootFailure returns the engine failure that started err, following
// dependency failures to the import that failed. It returns nil when err
// is not an engine failure.
func rootFailure(err error) *modsys.InitializationError {
	var ie *modsys.InitializationError
	if !errors.As(err, &ie) {
		return nil
	}
	for ie.Kind == modsys.KindDependency {
		var inner *modsys.InitializationError
		if !errors.As(ie.Err, &inner) {
			break
		}
		ie = inner
	}
	return ie
}

// Error returns the concise message used in non-verbose output.
func (e *ActionableError) Error() string {
	var msg strings.Builder

	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)

	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}

	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}

	return msg.String()
}

// Unwrap returns the underlying cause for use with errors.Is/As.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format returns the error message followed by its suggestions.
//
// When verbose is true, the error tree is appended with one line per error,
// indented by depth. Joined and multi-cause errors list every branch.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder

	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, suggestion := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(suggestion)
		}
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		writeChain(&msg, e.Cause, 1)
	}

	return msg.String()
}

func writeChain(b *strings.Builder, err error, depth int) {
	fmt.Fprintf(b, "\n%s%d. %s", strings.Repeat("  ", depth), depth, err.Error())
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, child := range u.Unwrap() {
			if child != nil {
				writeChain(b, child, depth+1)
			}
		}
	case interface{ Unwrap() error }:
		if child := u.Unwrap(); child != nil {
			writeChain(b, child, depth+1)
		}
	}
}

// HasSuggestions returns true if the error has any suggestions.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// WithOperation sets the operation being performed, as a verb phrase such as
// "resolve module".
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the resource involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithSuggestion adds a suggestion. It can be called repeatedly.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.suggestions = append(c.suggestions, sug)
	return c
}

// WithSuggestions adds multiple suggestions at once.
func (c *ErrorContext) WithSuggestions(sugs ...string) *ErrorContext {
	c.suggestions = append(c.suggestions, sugs...)
	return c
}

// Wrap sets the underlying cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// Build creates an ActionableError from the context.
// Returns nil if no operation is set.
func (c *ErrorContext) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}

	return &ActionableError{
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: c.suggestions,
		Cause:       c.cause,
	}
}

// BuildError is Build returned as an error; nil when no operation is set.
func (c *ErrorContext) BuildError() error {
	ae := c.Build()
	if ae == nil {
		return nil
	}
	return ae
}
