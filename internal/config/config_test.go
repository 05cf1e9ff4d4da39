package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() *Config {
	return &Config{
		BuildSys: BuildSysConfig{
			HubURL:     "https://koji.example.com/kojihub",
			Timeout:    60 * time.Second,
			TaskLimit:  10,
			TaskMethod: "buildArch",
		},
		LogStore: LogStoreConfig{
			TopURL:            "https://koji.example.com/kojifiles",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 10,
			Burst:             4,
			MaxBytes:          4 * 1024 * 1024,
			FetchConcurrency:  4,
		},
		Audit:  AuditConfig{Concurrency: 4},
		Report: ReportConfig{Format: "text"},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: "channel-validator",
			DrainTimeout:  30 * time.Second,
			Auth:          AuthConfig{Type: "none"},
		},
		Schedule: ScheduleConfig{Interval: 6 * time.Hour},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "test.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

func checkErr(t *testing.T, err error, wantErr bool, errText string) {
	t.Helper()
	if (err != nil) != wantErr {
		t.Errorf("validate() error = %v, wantErr %v", err, wantErr)
		return
	}
	if wantErr && errText != "" && err != nil {
		if !strings.Contains(err.Error(), errText) {
			t.Errorf("validate() error = %v, want error containing %q", err, errText)
		}
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := validate(validConfig()); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
}

// TestValidateBuildSys tests hub settings validation
func TestValidateBuildSys(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BuildSysConfig)
		wantErr bool
		errText string
	}{
		{
			name:   "https hub",
			mutate: func(c *BuildSysConfig) {},
		},
		{
			name:   "http hub",
			mutate: func(c *BuildSysConfig) { c.HubURL = "http://localhost:8080/kojihub" },
		},
		{
			name:    "missing hub",
			mutate:  func(c *BuildSysConfig) { c.HubURL = "" },
			wantErr: true,
			errText: "buildsys.hub_url is required",
		},
		{
			name:    "hub without scheme",
			mutate:  func(c *BuildSysConfig) { c.HubURL = "koji.example.com/kojihub" },
			wantErr: true,
			errText: "scheme must be one of http, https",
		},
		{
			name:    "file hub",
			mutate:  func(c *BuildSysConfig) { c.HubURL = "file:///srv/koji" },
			wantErr: true,
			errText: "invalid buildsys.hub_url",
		},
		{
			name:    "timeout too short",
			mutate:  func(c *BuildSysConfig) { c.Timeout = 100 * time.Millisecond },
			wantErr: true,
			errText: "at least 1 second",
		},
		{
			name:    "no tasks",
			mutate:  func(c *BuildSysConfig) { c.TaskLimit = 0 },
			wantErr: true,
			errText: "task_limit must be at least 1",
		},
		{
			name:    "no task method",
			mutate:  func(c *BuildSysConfig) { c.TaskMethod = "" },
			wantErr: true,
			errText: "task_method is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.BuildSys)
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateLogStore tests log store validation
func TestValidateLogStore(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LogStoreConfig)
		wantErr bool
		errText string
	}{
		{
			name:   "plain path",
			mutate: func(c *LogStoreConfig) { c.TopURL = "/mnt/koji" },
		},
		{
			name:   "file url",
			mutate: func(c *LogStoreConfig) { c.TopURL = "file:///mnt/koji" },
		},
		{
			name:   "unlimited rate",
			mutate: func(c *LogStoreConfig) { c.RequestsPerSecond = 0 },
		},
		{
			name:    "missing",
			mutate:  func(c *LogStoreConfig) { c.TopURL = "" },
			wantErr: true,
			errText: "logstore.top_url is required",
		},
		{
			name:    "unsupported scheme",
			mutate:  func(c *LogStoreConfig) { c.TopURL = "ftp://koji.example.com/kojifiles" },
			wantErr: true,
			errText: "scheme must be one of http, https, file",
		},
		{
			name:    "negative rate",
			mutate:  func(c *LogStoreConfig) { c.RequestsPerSecond = -1 },
			wantErr: true,
			errText: "must not be negative",
		},
		{
			name:    "tiny reads",
			mutate:  func(c *LogStoreConfig) { c.MaxBytes = 10 },
			wantErr: true,
			errText: "max_bytes must be at least 1024",
		},
		{
			name:    "no fetch concurrency",
			mutate:  func(c *LogStoreConfig) { c.FetchConcurrency = 0 },
			wantErr: true,
			errText: "fetch_concurrency must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.LogStore)
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateReportAndSchedule tests output and schedule validation
func TestValidateReportAndSchedule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errText string
	}{
		{
			name:   "json report",
			mutate: func(c *Config) { c.Report.Format = "json" },
		},
		{
			name:   "yaml report",
			mutate: func(c *Config) { c.Report.Format = "yaml" },
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Report.Format = "html" },
			wantErr: true,
			errText: "invalid report.format",
		},
		{
			name:    "no audit concurrency",
			mutate:  func(c *Config) { c.Audit.Concurrency = 0 },
			wantErr: true,
			errText: "audit.concurrency must be at least 1",
		},
		{
			name:    "interval too short",
			mutate:  func(c *Config) { c.Schedule.Interval = 30 * time.Second },
			wantErr: true,
			errText: "at least 1 minute",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: true,
			errText: "invalid logging.level",
		},
		{
			name:   "console logging ignores size",
			mutate: func(c *Config) { c.Logging.File = ""; c.Logging.MaxSizeMB = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateSubjectPrefix maps each prefix to the error it should
// produce; an empty string means valid
func TestValidateSubjectPrefix(t *testing.T) {
	tests := map[string]string{
		"validator":                 "",
		"channel_validator":         "",
		"us-east-1.koji.validator3": "",
		".validator":                "cannot start or end with a dot",
		"validator.":                "cannot start or end with a dot",
		".":                         "cannot start or end with a dot",
		"koji..validator":           "consecutive dots not allowed",
		"koji@dev.validator":        `token "koji@dev" contains invalid characters`,
		"my koji":                   "contains invalid characters",
		"koji.*.validator":          `token "*" contains invalid characters`,
		"koji.>":                    "contains invalid characters",
	}

	for prefix, want := range tests {
		t.Run(prefix, func(t *testing.T) {
			checkErr(t, validateSubjectPrefix(prefix), want != "", want)
		})
	}
}

// TestValidateNATS tests NATS validation, which only applies when enabled
func TestValidateNATS(t *testing.T) {
	tmpDir := t.TempDir()
	credsFile := filepath.Join(tmpDir, "validator.creds")
	os.WriteFile(credsFile, []byte("creds"), 0600)

	tests := []struct {
		name    string
		enabled bool
		mutate  func(*NATSConfig)
		wantErr bool
		errText string
	}{
		{
			name:    "disabled ignores everything",
			enabled: false,
			mutate:  func(c *NATSConfig) { c.URLs = nil; c.Auth.Type = "bogus" },
		},
		{
			name:    "none auth",
			enabled: true,
			mutate:  func(c *NATSConfig) {},
		},
		{
			name:    "token auth",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.Auth = AuthConfig{Type: "token", Token: "secret-token"} },
		},
		{
			name:    "userpass auth",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.Auth = AuthConfig{Type: "userpass", Username: "user", Password: "pass"} },
		},
		{
			name:    "creds auth",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.Auth = AuthConfig{Type: "creds", CredsFile: credsFile} },
		},
		{
			name:    "no urls",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.URLs = nil },
			wantErr: true,
			errText: "at least one NATS URL is required",
		},
		{
			name:    "empty prefix",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.SubjectPrefix = "" },
			wantErr: true,
			errText: "subject_prefix is required",
		},
		{
			name:    "prefix too long",
			enabled: true,
			mutate: func(c *NATSConfig) {
				c.SubjectPrefix = "this-is-a-very-long-prefix-that-exceeds-the-maximum-allowed-length"
			},
			wantErr: true,
			errText: "must not exceed 50 characters",
		},
		{
			name:    "invalid type",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.Auth = AuthConfig{Type: "invalid"} },
			wantErr: true,
			errText: "invalid auth type",
		},
		{
			name:    "token missing",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.Auth = AuthConfig{Type: "token"} },
			wantErr: true,
			errText: "token is required",
		},
		{
			name:    "userpass missing password",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.Auth = AuthConfig{Type: "userpass", Username: "user"} },
			wantErr: true,
			errText: "username and password are required",
		},
		{
			name:    "creds file missing",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.Auth = AuthConfig{Type: "creds", CredsFile: "/nonexistent/validator.creds"} },
			wantErr: true,
			errText: "creds file not found",
		},
		{
			name:    "drain timeout too short",
			enabled: true,
			mutate:  func(c *NATSConfig) { c.DrainTimeout = 0 },
			wantErr: true,
			errText: "drain_timeout must be at least 1 second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Enabled = tt.enabled
			tt.mutate(&cfg.NATS)
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateTLS covers cert/key pairing and file existence checks
func TestValidateTLS(t *testing.T) {
	dir := t.TempDir()
	pem := func(name string) string {
		path := filepath.Join(dir, name)
		os.WriteFile(path, []byte(name), 0644)
		return path
	}
	cert, key, ca := pem("client.crt"), pem("client.key"), pem("ca.crt")
	missing := filepath.Join(dir, "missing.pem")

	tests := map[string]struct {
		tls     TLSConfig
		errText string
	}{
		"disabled skips files": {tls: TLSConfig{CertFile: missing}},
		"system roots":         {tls: TLSConfig{Enabled: true}},
		"mutual tls":           {tls: TLSConfig{Enabled: true, CertFile: cert, KeyFile: key, CAFile: ca}},
		"unpaired cert":        {tls: TLSConfig{Enabled: true, CertFile: cert}, errText: "key_file is required"},
		"unpaired key":         {tls: TLSConfig{Enabled: true, KeyFile: key}, errText: "cert_file is required"},
		"missing cert":         {tls: TLSConfig{Enabled: true, CertFile: missing, KeyFile: key}, errText: "certificate file not found"},
		"missing key":          {tls: TLSConfig{Enabled: true, CertFile: cert, KeyFile: missing}, errText: "key file not found"},
		"missing ca":           {tls: TLSConfig{Enabled: true, CAFile: missing}, errText: "CA file not found"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Enabled = true
			cfg.NATS.TLS = tt.tls
			checkErr(t, validate(cfg), tt.errText != "", tt.errText)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
buildsys:
  hub_url: https://koji.example.com/kojihub
  task_limit: 5
logstore:
  top_url: /mnt/koji
audit:
  channels: [rhel9, dummy-rhel8]
report:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHANVAL_AUDIT_CONCURRENCY", "8")
	t.Setenv("CHANVAL_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BuildSys.TaskLimit != 5 || cfg.BuildSys.TaskMethod != "buildArch" {
		t.Errorf("BuildSys = %+v", cfg.BuildSys)
	}
	if cfg.BuildSys.Timeout != 60*time.Second {
		t.Errorf("BuildSys.Timeout = %v, want default 60s", cfg.BuildSys.Timeout)
	}
	if cfg.LogStore.TopURL != "/mnt/koji" || cfg.LogStore.MaxBytes != 4*1024*1024 {
		t.Errorf("LogStore = %+v", cfg.LogStore)
	}
	if len(cfg.Audit.Channels) != 2 || cfg.Audit.Channels[1] != "dummy-rhel8" {
		t.Errorf("Audit.Channels = %v", cfg.Audit.Channels)
	}
	if cfg.Audit.Concurrency != 8 {
		t.Errorf("Audit.Concurrency = %d, want env override 8", cfg.Audit.Concurrency)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env override", cfg.Logging.Level)
	}
	if cfg.Report.Format != "json" || cfg.Schedule.Interval != 6*time.Hour {
		t.Errorf("Report = %+v, Schedule = %+v", cfg.Report, cfg.Schedule)
	}
	if cfg.NATS.Enabled {
		t.Error("NATS enabled by default")
	}
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("report:\n  format: yaml\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHANVAL_BUILDSYS_HUB_URL", "https://koji.example.com/kojihub")
	t.Setenv("CHANVAL_LOGSTORE_TOP_URL", "https://koji.example.com/kojifiles")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BuildSys.HubURL != "https://koji.example.com/kojihub" {
		t.Errorf("HubURL = %q", cfg.BuildSys.HubURL)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() of a missing explicit file succeeded")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(invalid, []byte("logstore:\n  top_url: /mnt/koji\n"), 0644)
	_, err := Load(invalid)
	if err == nil || !strings.Contains(err.Error(), "buildsys.hub_url is required") {
		t.Errorf("Load() error = %v, want missing hub url", err)
	}
}

func TestServiceDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.File = ""
	ServiceDefaults(cfg)

	defaults := GetPlatformDefaults()
	if cfg.Logging.File != defaults.LogFile {
		t.Errorf("Logging.File = %q, want %q", cfg.Logging.File, defaults.LogFile)
	}
	if cfg.Report.MetricsFile != defaults.MetricsFile {
		t.Errorf("Report.MetricsFile = %q, want %q", cfg.Report.MetricsFile, defaults.MetricsFile)
	}

	cfg.Logging.File = "custom.log"
	ServiceDefaults(cfg)
	if cfg.Logging.File != "custom.log" {
		t.Error("ServiceDefaults overwrote a configured log file")
	}
}
