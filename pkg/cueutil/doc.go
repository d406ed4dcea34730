// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes CUE documents validated against an embedded schema.
//
// Module definitions (module.cue) and the CLI configuration (config.cue) are
// both decoded through [Decode]:
//
//  1. Compile the embedded schema and look up the root definition
//  2. Compile the document and unify it with that definition
//  3. Validate and decode into the Go value
//
// # Usage
//
//	//go:embed module_schema.cue
//	var moduleSchema []byte
//
//	doc, err := cueutil.Decode[moduleFile](moduleSchema, data, "#Module",
//	    cueutil.WithFilename(path))
//	if err != nil {
//	    return nil, err // *SchemaError carries one Issue per offending field
//	}
//	return &doc.Value, nil
package cueutil
