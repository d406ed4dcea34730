// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultMaxSize bounds documents accepted by Decode unless WithMaxSize says otherwise.
const DefaultMaxSize int64 = 1 << 20

type (
	// Option configures Decode.
	Option func(*options)

	options struct {
		filename string
		maxSize  int64
		concrete bool
	}

	// Document is a decoded CUE document.
	Document[T any] struct {
		// Value is the decoded Go value.
		Value T
		// Unified is the document unified with its schema definition, for
		// callers that read fields the Go type does not carry.
		Unified cue.Value
	}
)

// WithFilename names the document in errors.
func WithFilename(name string) Option {
	return func(o *options) { o.filename = name }
}

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int64) Option {
	return func(o *options) { o.maxSize = n }
}

// WithConcrete controls whether every field must have a concrete value.
// Decode requires concrete values by default.
func WithConcrete(concrete bool) Option {
	return func(o *options) { o.concrete = concrete }
}

// Decode validates data against the schema definition at definition (for
// example "#Module") and decodes the unified value into T.
//
// Document errors are returned as *SchemaError; a schema that fails to compile
// is reported as a plain error since it is a programming mistake.
func Decode[T any](schema, data []byte, definition string, opts ...Option) (*Document[T], error) {
	o := options{filename: "<input>", maxSize: DefaultMaxSize, concrete: true}
	for _, opt := range opts {
		opt(&o)
	}

	if int64(len(data)) > o.maxSize {
		return nil, &SchemaError{
			File:   o.filename,
			Issues: []Issue{{Message: fmt.Sprintf("document is %d bytes, limit is %d", len(data), o.maxSize)}},
			tooBig: true,
		}
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileBytes(schema)
	if err := schemaValue.Err(); err != nil {
		return nil, fmt.Errorf("cueutil: compile schema: %w", err)
	}
	root := schemaValue.LookupPath(cue.ParsePath(definition))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("cueutil: schema has no %s: %w", definition, err)
	}

	docValue := ctx.CompileBytes(data, cue.Filename(o.filename))
	if err := docValue.Err(); err != nil {
		return nil, newSchemaError(err, o.filename)
	}

	unified := root.Unify(docValue)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return nil, newSchemaError(err, o.filename)
	}

	doc := &Document[T]{Unified: unified}
	if err := unified.Decode(&doc.Value); err != nil {
		return nil, newSchemaError(err, o.filename)
	}
	return doc, nil
}
