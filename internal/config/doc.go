// SPDX-License-Identifier: MPL-2.0

// Package config handles modhost configuration using Viper with CUE as the file format.
//
// Configuration is loaded from config.cue in the platform config directory
// ($XDG_CONFIG_HOME/modhost on Linux, ~/Library/Application Support/modhost on
// macOS, %APPDATA%\modhost on Windows), from an explicit --config path or the
// file named by MODHOST_CONFIG, or from config.cue in the working directory.
// The file declares the module repositories to open (parent-first), the roots
// to resolve, the lock file, UI settings and the options of "modhost serve".
//
// Files are validated against the embedded CUE schema (config_schema.cue);
// constraints CUE cannot express, such as unique repository names and parent
// ordering, are checked after decoding.
package config
