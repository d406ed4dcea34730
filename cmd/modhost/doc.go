// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the CLI commands for modhost.
//
// The root command loads configuration, opens the configured repository
// chain and hands it to the subcommands: resolve, lookup, graph, validate,
// serve and config.
package cmd
