// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

var (
	// ErrSchema is the sentinel wrapped by every *SchemaError.
	ErrSchema = errors.New("document does not match schema")
	// ErrTooLarge is additionally wrapped when a document exceeds the size limit.
	ErrTooLarge = errors.New("document too large")
)

type (
	// Issue is one problem found in a document.
	Issue struct {
		// Path is the field path in JSON-path notation, e.g. "imports[1].constraint".
		Path    string
		Message string
	}

	// SchemaError reports why a document was rejected.
	SchemaError struct {
		File   string
		Issues []Issue
		tooBig bool
	}
)

func (e *SchemaError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			lines = append(lines, is.Message)
			continue
		}
		lines = append(lines, is.Path+": "+is.Message)
	}
	if len(lines) == 1 {
		return fmt.Sprintf("%s: %s", e.File, lines[0])
	}
	return fmt.Sprintf("%s: %d problems:\n  %s", e.File, len(lines), strings.Join(lines, "\n  "))
}

func (e *SchemaError) Unwrap() []error {
	if e.tooBig {
		return []error{ErrSchema, ErrTooLarge}
	}
	return []error{ErrSchema}
}

func newSchemaError(err error, file string) *SchemaError {
	se := &SchemaError{File: file}
	for _, ce := range cueerrors.Errors(err) {
		path := formatPath(cueerrors.Path(ce))
		msg := ce.Error()
		// CUE repeats the path at the start of some messages.
		if path != "" {
			if rest, ok := strings.CutPrefix(msg, strings.Join(cueerrors.Path(ce), ".")); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		se.Issues = append(se.Issues, Issue{Path: path, Message: msg})
	}
	if len(se.Issues) == 0 {
		se.Issues = []Issue{{Message: err.Error()}}
	}
	return se
}

// formatPath renders ["imports", "0", "name"] as "imports[0].name".
func formatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
