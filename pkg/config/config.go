// Package config loads and validates the Dynamic Mount Service's
// configuration surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dittomount/dms/pkg/ledger"
)

// Config represents the DMS server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DMS_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// NodeID identifies this server process. It names the broker queue
	// (dms.<node_id>) this process consumes mount/unmount requests from.
	NodeID string `mapstructure:"node_id" validate:"required" yaml:"node_id"`

	// BrokerURL is the AMQP connection URL for the mount/unmount RPC transport.
	BrokerURL string `mapstructure:"broker_url" validate:"required" yaml:"broker_url"`

	// AuthURL is the base URL of the secret store consulted to resolve
	// a backup target's secret_ref into S3 credentials.
	AuthURL string `mapstructure:"auth_url" validate:"required" yaml:"auth_url"`

	// RPCTimeout bounds how long the coordinator waits for a correlated
	// mount/unmount RPC reply before giving up.
	RPCTimeout time.Duration `mapstructure:"rpc_timeout_seconds" validate:"required,gt=0" yaml:"rpc_timeout_seconds"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Ledger configures the reference-counted mount ledger's backing
	// database (SQLite or PostgreSQL).
	Ledger ledger.Config `mapstructure:"ledger" yaml:"ledger"`

	// Lock configures the host-scoped exclusive mount/unmount lock.
	Lock LockConfig `mapstructure:"lock" yaml:"lock"`

	// Mount configures the mount executor: where mounts land, which
	// helper binaries it shells out to, and how long it waits for a
	// freshly spawned FUSE helper to come up.
	Mount MountConfig `mapstructure:"mount" yaml:"mount"`
}

// LockConfig configures the host-scoped exclusive mount/unmount lock.
type LockConfig struct {
	// Dir is the directory holding the per-host lock file
	// (<dir>/<host>.lock).
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`

	// Timeout bounds how long Mount/Unmount wait to acquire the lock
	// before returning a LockTimeoutError.
	Timeout time.Duration `mapstructure:"timeout_seconds" validate:"required,gt=0" yaml:"timeout_seconds"`
}

// MountConfig configures the mount executor.
type MountConfig struct {
	// BasePath is the directory under which mount points are created,
	// one subdirectory per backup target.
	BasePath string `mapstructure:"base_path" validate:"required" yaml:"base_path"`

	// PIDDir is the on-disk FUSE process registry directory
	// (<pid_dir>/<target_id>.pid).
	PIDDir string `mapstructure:"pid_dir" validate:"required" yaml:"pid_dir"`

	// FuseBinaryPath is the FUSE helper binary spawned for S3 targets.
	FuseBinaryPath string `mapstructure:"fuse_binary_path" validate:"required" yaml:"fuse_binary_path"`

	// PrivilegedMountHelperPath is the setuid/sudo-wrapped helper
	// invoked for NFS mounts that require root privilege.
	PrivilegedMountHelperPath string `mapstructure:"privileged_mount_helper_path" validate:"required" yaml:"privileged_mount_helper_path"`

	// PrivilegedMountHelperConf is an optional configuration file path
	// passed to the privileged mount helper.
	PrivilegedMountHelperConf string `mapstructure:"privileged_mount_helper_conf" yaml:"privileged_mount_helper_conf,omitempty"`

	// ReadinessTimeout bounds how long Mount waits for a newly spawned
	// FUSE helper to report itself ready.
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout_seconds" validate:"required,gt=0" yaml:"readiness_timeout_seconds"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	// Default: false (opt-in).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server are enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port the /metrics endpoint listens on.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DMS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, Validate(cfg)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create one first, or specify a custom config file with --config",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validate is a package-level validator instance; struct-tag validation
// rules are cheap to reuse across Load calls.
var validate = validator.New()

// Validate checks a Config against its struct tag rules.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DMS_ prefix and underscores.
	// Example: DMS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h" wherever a *_seconds field is declared as time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v*float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dms")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dms")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
