// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/invowk/modhost/pkg/semver"
)

const (
	// LogLevelDebug logs every state transition.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs resolutions and releases.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs failures only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs hook teardown errors only.
	LogLevelError LogLevel = "error"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultLockFile is the lock file used when lock_file is not set.
	DefaultLockFile = "modhost.lock"
	// DefaultMetricsBindAddress is where "modhost serve" listens by default.
	DefaultMetricsBindAddress = "127.0.0.1:9464"
	// DefaultDebounce is the quiet period before a repository change is applied.
	DefaultDebounce = 250 * time.Millisecond
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidRepositoryName is the sentinel error wrapped by InvalidRepositoryNameError.
	ErrInvalidRepositoryName = errors.New("invalid repository name")
	// ErrInvalidRepositoryPath is the sentinel error wrapped by InvalidRepositoryPathError.
	ErrInvalidRepositoryPath = errors.New("invalid repository path")
	// ErrInvalidRootSpec is the sentinel error wrapped by InvalidRootSpecError.
	ErrInvalidRootSpec = errors.New("invalid root")
	// ErrInvalidDebounce is returned when a negative debounce is configured.
	ErrInvalidDebounce = errors.New("invalid debounce")
	// ErrInvalidRepositoryConfig is the sentinel error wrapped by InvalidRepositoryConfigError.
	ErrInvalidRepositoryConfig = errors.New("invalid repository config")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidServeConfig is the sentinel error wrapped by InvalidServeConfigError.
	ErrInvalidServeConfig = errors.New("invalid serve config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrDuplicateRepository is returned when two repositories share a name.
	ErrDuplicateRepository = errors.New("duplicate repository")
	// ErrUnknownParent is returned when a parent does not name an earlier repository.
	ErrUnknownParent = errors.New("unknown parent repository")
)

var (
	repositoryNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	moduleNamePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)
)

type (
	// LogLevel is the minimum level written by the CLI logger.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// RepositoryName names a configured repository. It appears in definition IDs
	// reported by "modhost validate" and as the parent reference of later entries.
	RepositoryName string

	// InvalidRepositoryNameError is returned when a RepositoryName does not match
	// the allowed pattern. It wraps ErrInvalidRepositoryName for errors.Is().
	InvalidRepositoryNameError struct {
		Value RepositoryName
	}

	// RepositoryPath is the directory a repository reads. Relative paths are
	// resolved against the directory of the config file that declared them.
	RepositoryPath string

	// InvalidRepositoryPathError is returned when a RepositoryPath is empty or
	// whitespace-only. It wraps ErrInvalidRepositoryPath for errors.Is().
	InvalidRepositoryPathError struct {
		Value RepositoryPath
	}

	// RootSpec is a module to resolve: "name" or "name@constraint".
	RootSpec string

	// InvalidRootSpecError is returned when a RootSpec cannot be split into a
	// module name and constraint. It wraps ErrInvalidRootSpec for errors.Is().
	InvalidRootSpecError struct {
		Value RootSpec
		Err   error
	}

	// InvalidDebounceError is returned when ServeConfig.Debounce is negative.
	InvalidDebounceError struct {
		Value time.Duration
	}

	// InvalidRepositoryConfigError is returned when a RepositoryConfig has invalid fields.
	// It wraps ErrInvalidRepositoryConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidRepositoryConfigError struct {
		Name        RepositoryName
		FieldErrors []error
	}

	// InvalidUIConfigError is returned when a UIConfig has invalid fields.
	// It wraps ErrInvalidUIConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidServeConfigError is returned when a ServeConfig has invalid fields.
	// It wraps ErrInvalidServeConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidServeConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// RepositoryConfig declares one directory repository.
	RepositoryConfig struct {
		// Name identifies the repository.
		Name RepositoryName `json:"name" mapstructure:"name"`
		// Path is the directory holding "<module>.modhost" directories.
		Path RepositoryPath `json:"path" mapstructure:"path"`
		// Parent optionally names an earlier repository consulted after this one.
		Parent RepositoryName `json:"parent,omitempty" mapstructure:"parent"`
	}

	// Config holds the application configuration.
	Config struct {
		// Repositories are opened in order; the last one is the lookup entry point.
		Repositories []RepositoryConfig `json:"repositories" mapstructure:"repositories"`
		// Roots are resolved by "modhost resolve" without arguments and by "modhost serve".
		Roots []RootSpec `json:"roots" mapstructure:"roots"`
		// LogLevel sets the CLI log level
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
		// LockFile is the path read by --locked and written by --write-lock
		LockFile string `json:"lock_file" mapstructure:"lock_file"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
		// Serve configures "modhost serve"
		Serve ServeConfig `json:"serve" mapstructure:"serve"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// ServeConfig configures the long-running host.
	ServeConfig struct {
		// MetricsBindAddress is the listen address of /metrics and /healthz.
		MetricsBindAddress string `json:"metrics_bind_address" mapstructure:"metrics_bind_address"`
		// Watch re-resolves roots when repository directories change.
		Watch bool `json:"watch" mapstructure:"watch"`
		// Debounce is the quiet period after the last change before reloading.
		Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
	}
)

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels,
// and a list of validation errors if it is not.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidRepositoryNameError.
func (e *InvalidRepositoryNameError) Error() string {
	return fmt.Sprintf("invalid repository name %q: must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", e.Value)
}

// Unwrap returns ErrInvalidRepositoryName for errors.Is() compatibility.
func (e *InvalidRepositoryNameError) Unwrap() error { return ErrInvalidRepositoryName }

// String returns the string representation of the RepositoryName.
func (n RepositoryName) String() string { return string(n) }

// IsValid returns whether the RepositoryName matches the allowed pattern.
func (n RepositoryName) IsValid() (bool, []error) {
	if !repositoryNamePattern.MatchString(string(n)) {
		return false, []error{&InvalidRepositoryNameError{Value: n}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRepositoryPathError.
func (e *InvalidRepositoryPathError) Error() string {
	return fmt.Sprintf("invalid repository path %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidRepositoryPath for errors.Is() compatibility.
func (e *InvalidRepositoryPathError) Unwrap() error { return ErrInvalidRepositoryPath }

// String returns the string representation of the RepositoryPath.
func (p RepositoryPath) String() string { return string(p) }

// IsValid returns whether the RepositoryPath is valid.
// A valid path must be non-empty and not whitespace-only.
func (p RepositoryPath) IsValid() (bool, []error) {
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidRepositoryPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRootSpecError.
func (e *InvalidRootSpecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid root %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("invalid root %q: want name or name@constraint", e.Value)
}

// Unwrap returns ErrInvalidRootSpec for errors.Is() compatibility.
func (e *InvalidRootSpecError) Unwrap() error { return ErrInvalidRootSpec }

// String returns the string representation of the RootSpec.
func (r RootSpec) String() string { return string(r) }

// Split returns the module name and constraint. A missing constraint is "*".
func (r RootSpec) Split() (string, semver.Constraint, error) {
	name, raw, _ := strings.Cut(strings.TrimSpace(string(r)), "@")
	if !moduleNamePattern.MatchString(name) {
		return "", semver.Constraint{}, &InvalidRootSpecError{Value: r}
	}
	c, err := semver.ParseConstraint(raw)
	if err != nil {
		return "", semver.Constraint{}, &InvalidRootSpecError{Value: r, Err: err}
	}
	return name, c, nil
}

// IsValid returns whether the RootSpec can be split.
func (r RootSpec) IsValid() (bool, []error) {
	if _, _, err := r.Split(); err != nil {
		return false, []error{err}
	}
	return true, nil
}

// Error implements the error interface for InvalidDebounceError.
func (e *InvalidDebounceError) Error() string {
	return fmt.Sprintf("invalid debounce %s: must not be negative", e.Value)
}

// Unwrap returns ErrInvalidDebounce for errors.Is() compatibility.
func (e *InvalidDebounceError) Unwrap() error { return ErrInvalidDebounce }

// IsValid returns whether the RepositoryConfig has valid fields.
// Parent is only checked when non-empty.
func (c RepositoryConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Name.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Path.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.Parent != "" {
		if valid, fieldErrs := c.Parent.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidRepositoryConfigError{Name: c.Name, FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRepositoryConfigError.
func (e *InvalidRepositoryConfigError) Error() string {
	return fmt.Sprintf("invalid repository %q: %d field error(s)", e.Name, len(e.FieldErrors))
}

// Unwrap returns ErrInvalidRepositoryConfig for errors.Is() compatibility.
func (e *InvalidRepositoryConfigError) Unwrap() error { return ErrInvalidRepositoryConfig }

// IsValid returns whether the UIConfig has valid fields.
// It delegates to ColorScheme.IsValid(); bool fields need no validation.
func (c UIConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUIConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// IsValid returns whether the ServeConfig has valid fields.
func (c ServeConfig) IsValid() (bool, []error) {
	var errs []error
	if c.Debounce < 0 {
		errs = append(errs, &InvalidDebounceError{Value: c.Debounce})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidServeConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidServeConfigError.
func (e *InvalidServeConfigError) Error() string {
	return fmt.Sprintf("invalid serve config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidServeConfig for errors.Is() compatibility.
func (e *InvalidServeConfigError) Unwrap() error { return ErrInvalidServeConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to each Repositories entry, each Roots entry, LogLevel, UI and Serve.
// Cross-entry rules live in validateRepositories.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for _, repo := range c.Repositories {
		if valid, fieldErrs := repo.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	for _, root := range c.Roots {
		if valid, fieldErrs := root.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if valid, fieldErrs := c.LogLevel.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Serve.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Repositories: []RepositoryConfig{},
		Roots:        []RootSpec{},
		LogLevel:     LogLevelWarn,
		LockFile:     DefaultLockFile,
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
		Serve: ServeConfig{
			MetricsBindAddress: DefaultMetricsBindAddress,
			Watch:              true,
			Debounce:           DefaultDebounce,
		},
	}
}
