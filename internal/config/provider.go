// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"os"
)

// EnvConfigFile names the environment variable that selects the config
// file when LoadOptions.ConfigFilePath is empty.
const EnvConfigFile = "MODHOST_CONFIG"

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// ConfigDirPath replaces the platform config directory when set.
		ConfigDirPath string
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	// ProviderFunc adapts a function to Provider.
	ProviderFunc func(ctx context.Context, opts LoadOptions) (*Config, error)
)

// Load calls f.
func (f ProviderFunc) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return f(ctx, opts)
}

// NewProvider returns the Provider that reads config files from disk.
func NewProvider() Provider {
	return ProviderFunc(func(ctx context.Context, opts LoadOptions) (*Config, error) {
		cfg, _, err := LoadWithPath(ctx, opts)
		return cfg, err
	})
}

// LoadWithPath loads configuration and also reports which file was read,
// or "" when only defaults were used.
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if opts.ConfigFilePath == "" {
		opts.ConfigFilePath = os.Getenv(EnvConfigFile)
	}
	return loadWithOptions(ctx, opts)
}
