// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/invowk/modhost/internal/issue"
	"github.com/invowk/modhost/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "modhost"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the modhost configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("repositories", defaults.Repositories)
	v.SetDefault("roots", defaults.Roots)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("lock_file", defaults.LockFile)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("serve.metrics_bind_address", defaults.Serve.MetricsBindAddress)
	v.SetDefault("serve.watch", defaults.Serve.Watch)
	v.SetDefault("serve.debounce", defaults.Serve.Debounce)

	resolvedPath, err := locateConfig(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'modhost config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Fix the reported fields; see 'modhost config show' for the expected shape").
			Wrap(errs[0]).
			BuildError()
	}

	// Uniqueness and parent ordering cannot be expressed in the CUE schema.
	if err := validateRepositories(cfg.Repositories); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Give every repository a unique name").
			WithSuggestion("List a parent repository before the repositories that name it").
			Wrap(err).
			BuildError()
	}

	if resolvedPath != "" {
		cfg.resolvePaths(filepath.Dir(resolvedPath))
	}

	return &cfg, resolvedPath, nil
}

// locateConfig returns the file to load: the explicit path, config.cue in the
// config directory, or config.cue in the working directory. It returns "" when
// no file exists and defaults apply.
func locateConfig(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'modhost config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	if cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(cuePath) {
		return cuePath, nil
	}
	if localCuePath := ConfigFileName + "." + ConfigFileExt; fileExists(localCuePath) {
		return localCuePath, nil
	}
	return "", nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against the #Config schema and merges
// its contents into Viper.
//
// The file decodes to map[string]any rather than Config so that Viper keeps
// its defaults for fields the file leaves out.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	doc, err := cueutil.Decode[map[string]any]([]byte(configSchema), data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	// Merge into Viper (preserves defaults)
	if err := v.MergeConfigMap(doc.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// validateRepositories checks repository entries for constraints that CUE cannot express:
//   - all names must be unique
//   - a non-empty parent must name an entry listed earlier
func validateRepositories(repos []RepositoryConfig) error {
	seen := make(map[RepositoryName]int, len(repos))
	for i, repo := range repos {
		if first, exists := seen[repo.Name]; exists {
			return fmt.Errorf("%w: repositories[%d] reuses name %q (same as repositories[%d])", ErrDuplicateRepository, i, repo.Name, first)
		}
		if repo.Parent != "" {
			if _, exists := seen[repo.Parent]; !exists {
				return fmt.Errorf("%w: repositories[%d] (%s) names parent %q, which is not declared before it", ErrUnknownParent, i, repo.Name, repo.Parent)
			}
		}
		seen[repo.Name] = i
	}
	return nil
}

// resolvePaths makes relative repository and lock file paths relative to base.
func (c *Config) resolvePaths(base string) {
	for i, repo := range c.Repositories {
		if !filepath.IsAbs(string(repo.Path)) {
			c.Repositories[i].Path = RepositoryPath(filepath.Join(base, string(repo.Path)))
		}
	}
	if c.LockFile != "" && !filepath.IsAbs(c.LockFile) {
		c.LockFile = filepath.Join(base, c.LockFile)
	}
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config file into dir (the config
// directory when dir is empty) unless one exists. It returns the file path.
func CreateDefaultConfig(dir string) (string, error) {
	cfgDir, err := configDirWithOverride(dir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// modhost configuration file\n\n")

	if len(cfg.Repositories) > 0 {
		sb.WriteString("repositories: [\n")
		for _, repo := range cfg.Repositories {
			if repo.Parent != "" {
				fmt.Fprintf(&sb, "\t{name: %q, path: %q, parent: %q},\n", repo.Name, repo.Path, repo.Parent)
			} else {
				fmt.Fprintf(&sb, "\t{name: %q, path: %q},\n", repo.Name, repo.Path)
			}
		}
		sb.WriteString("]\n")
	} else {
		sb.WriteString("repositories: []\n")
	}

	if len(cfg.Roots) > 0 {
		sb.WriteString("roots: [\n")
		for _, root := range cfg.Roots {
			fmt.Fprintf(&sb, "\t%q,\n", root)
		}
		sb.WriteString("]\n")
	} else {
		sb.WriteString("roots: []\n")
	}

	fmt.Fprintf(&sb, "\nlog_level: %q\n", cfg.LogLevel)
	fmt.Fprintf(&sb, "lock_file: %q\n", cfg.LockFile)

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	sb.WriteString("\nserve: {\n")
	fmt.Fprintf(&sb, "\tmetrics_bind_address: %q\n", cfg.Serve.MetricsBindAddress)
	fmt.Fprintf(&sb, "\twatch: %v\n", cfg.Serve.Watch)
	fmt.Fprintf(&sb, "\tdebounce: %q\n", cfg.Serve.Debounce.String())
	sb.WriteString("}\n")

	return sb.String()
}
