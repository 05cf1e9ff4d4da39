// Package config loads the validator's configuration from a YAML file,
// CHANVAL_ prefixed environment variables and platform defaults.
//
// Environment variables use underscores for nested keys:
//   - CHANVAL_BUILDSYS_HUB_URL=https://koji.example.com/kojihub
//   - CHANVAL_LOGSTORE_TOP_URL=https://koji.example.com/kojifiles
//   - CHANVAL_NATS_ENABLED=true
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "CHANVAL"

// Config is the root configuration
type Config struct {
	BuildSys BuildSysConfig `mapstructure:"buildsys"`
	LogStore LogStoreConfig `mapstructure:"logstore"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Report   ReportConfig   `mapstructure:"report"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BuildSysConfig points at the build system hub
type BuildSysConfig struct {
	HubURL     string        `mapstructure:"hub_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TaskLimit  int           `mapstructure:"task_limit"`
	TaskMethod string        `mapstructure:"task_method"`
}

// LogStoreConfig points at the tree that serves task logs
type LogStoreConfig struct {
	// TopURL is an http(s) download root, a file:// URL or a plain path to
	// a locally mounted copy
	TopURL            string        `mapstructure:"top_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxBytes          int64         `mapstructure:"max_bytes"`
	FetchConcurrency  int           `mapstructure:"fetch_concurrency"`
}

// AuditConfig selects and paces what gets audited
type AuditConfig struct {
	// Channels restricts audits to the named channels, empty for all
	Channels        []string `mapstructure:"channels"`
	Concurrency     int      `mapstructure:"concurrency"`
	IncludeDisabled bool     `mapstructure:"include_disabled"`
}

// ReportConfig controls where reports go
type ReportConfig struct {
	Format string `mapstructure:"format"`

	// Output is a file path, empty for stdout
	Output string `mapstructure:"output"`

	// MetricsFile is a node_exporter textfile path, empty to skip
	MetricsFile string `mapstructure:"metrics_file"`
}

// NATSConfig configures report publishing and remote commands
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
}

// AuthConfig selects the NATS authentication method
type AuthConfig struct {
	Type      string `mapstructure:"type"` // none, creds, token, userpass
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig configures TLS for the NATS connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ScheduleConfig controls periodic audits in watch mode
type ScheduleConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// LoggingConfig configures the logger. An empty File logs to the console only.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads the configuration file at path, or the platform default path
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = GetDefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if explicit || !isFileNotFoundError(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Every key needs a default, even an empty one, or AutomaticEnv overrides
// are not seen by Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("buildsys.hub_url", "")
	v.SetDefault("buildsys.timeout", "60s")
	v.SetDefault("buildsys.task_limit", 10)
	v.SetDefault("buildsys.task_method", "buildArch")

	v.SetDefault("logstore.top_url", "")
	v.SetDefault("logstore.timeout", "60s")
	v.SetDefault("logstore.requests_per_second", 10)
	v.SetDefault("logstore.burst", 4)
	v.SetDefault("logstore.max_bytes", 4*1024*1024)
	v.SetDefault("logstore.fetch_concurrency", 4)

	v.SetDefault("audit.channels", []string{})
	v.SetDefault("audit.concurrency", 4)
	v.SetDefault("audit.include_disabled", false)

	v.SetDefault("report.format", "text")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.subject_prefix", "channel-validator")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.drain_timeout", "30s")
	v.SetDefault("nats.auth.type", "none")
	v.SetDefault("nats.auth.creds_file", "")
	v.SetDefault("nats.auth.token", "")
	v.SetDefault("nats.auth.username", "")
	v.SetDefault("nats.auth.password", "")
	v.SetDefault("nats.tls.enabled", false)
	v.SetDefault("nats.tls.cert_file", "")
	v.SetDefault("nats.tls.key_file", "")
	v.SetDefault("nats.tls.ca_file", "")
	v.SetDefault("nats.tls.insecure_skip_verify", false)

	v.SetDefault("schedule.interval", "6h")
	v.SetDefault("schedule.run_on_start", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	UpdateConfigDefaults(v)
}

func validate(cfg *Config) error {
	if err := validateURL("buildsys.hub_url", cfg.BuildSys.HubURL, "http", "https"); err != nil {
		return err
	}
	if cfg.BuildSys.Timeout < time.Second {
		return fmt.Errorf("buildsys.timeout must be at least 1 second")
	}
	if cfg.BuildSys.TaskLimit < 1 {
		return fmt.Errorf("buildsys.task_limit must be at least 1")
	}
	if cfg.BuildSys.TaskMethod == "" {
		return fmt.Errorf("buildsys.task_method is required")
	}

	if err := validateLogStore(&cfg.LogStore); err != nil {
		return err
	}

	if cfg.Audit.Concurrency < 1 {
		return fmt.Errorf("audit.concurrency must be at least 1")
	}

	switch cfg.Report.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid report.format: %s (must be text, json or yaml)", cfg.Report.Format)
	}

	if cfg.NATS.Enabled {
		if err := validateNATS(&cfg.NATS); err != nil {
			return err
		}
	}

	if cfg.Schedule.Interval < time.Minute {
		return fmt.Errorf("schedule.interval must be at least 1 minute")
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}

	return nil
}

func validateLogStore(cfg *LogStoreConfig) error {
	if cfg.TopURL == "" {
		return fmt.Errorf("logstore.top_url is required")
	}
	if strings.Contains(cfg.TopURL, "://") {
		if err := validateURL("logstore.top_url", cfg.TopURL, "http", "https", "file"); err != nil {
			return err
		}
	}
	if cfg.Timeout < time.Second {
		return fmt.Errorf("logstore.timeout must be at least 1 second")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("logstore.requests_per_second must not be negative")
	}
	if cfg.MaxBytes < 1024 {
		return fmt.Errorf("logstore.max_bytes must be at least 1024")
	}
	if cfg.FetchConcurrency < 1 {
		return fmt.Errorf("logstore.fetch_concurrency must be at least 1")
	}
	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: scheme must be one of %s", key, strings.Join(schemes, ", "))
}

func validateNATS(cfg *NATSConfig) error {
	if len(cfg.URLs) == 0 {
		return fmt.Errorf("at least one NATS URL is required")
	}

	if cfg.SubjectPrefix == "" {
		return fmt.Errorf("nats.subject_prefix is required")
	}
	if len(cfg.SubjectPrefix) > 50 {
		return fmt.Errorf("nats.subject_prefix must not exceed 50 characters")
	}
	if err := validateSubjectPrefix(cfg.SubjectPrefix); err != nil {
		return fmt.Errorf("invalid nats.subject_prefix: %w", err)
	}

	switch cfg.Auth.Type {
	case "none":
	case "creds":
		if cfg.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
		if _, err := os.Stat(cfg.Auth.CredsFile); err != nil {
			return fmt.Errorf("creds file not found: %s", cfg.Auth.CredsFile)
		}
	case "token":
		if cfg.Auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	default:
		return fmt.Errorf("invalid auth type: %s", cfg.Auth.Type)
	}

	if cfg.TLS.Enabled {
		if err := validateTLS(&cfg.TLS); err != nil {
			return err
		}
	}

	if cfg.DrainTimeout < time.Second {
		return fmt.Errorf("nats.drain_timeout must be at least 1 second")
	}
	return nil
}

func validateTLS(cfg *TLSConfig) error {
	if cfg.CertFile != "" && cfg.KeyFile == "" {
		return fmt.Errorf("tls key_file is required when cert_file is set")
	}
	if cfg.KeyFile != "" && cfg.CertFile == "" {
		return fmt.Errorf("tls cert_file is required when key_file is set")
	}
	if cfg.CertFile != "" {
		if _, err := os.Stat(cfg.CertFile); err != nil {
			return fmt.Errorf("tls certificate file not found: %s", cfg.CertFile)
		}
	}
	if cfg.KeyFile != "" {
		if _, err := os.Stat(cfg.KeyFile); err != nil {
			return fmt.Errorf("tls key file not found: %s", cfg.KeyFile)
		}
	}
	if cfg.CAFile != "" {
		if _, err := os.Stat(cfg.CAFile); err != nil {
			return fmt.Errorf("tls CA file not found: %s", cfg.CAFile)
		}
	}
	return nil
}

var subjectToken = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validateSubjectPrefix checks that prefix is a dot-separated list of plain
// NATS subject tokens
func validateSubjectPrefix(prefix string) error {
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("cannot start or end with a dot")
	}
	for _, token := range strings.Split(prefix, ".") {
		if token == "" {
			return fmt.Errorf("consecutive dots not allowed")
		}
		if !subjectToken.MatchString(token) {
			return fmt.Errorf("token %q contains invalid characters", token)
		}
	}
	return nil
}

// isFileNotFoundError checks if an error is a file not found error
func isFileNotFoundError(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
