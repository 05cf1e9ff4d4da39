package config

import (
	"runtime"

	"github.com/spf13/viper"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	LogFile     string
	ConfigPath  string
	MetricsFile string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			LogFile:     `C:\ProgramData\ChannelValidator\channel-validator.log`,
			ConfigPath:  `C:\ProgramData\ChannelValidator\config.yaml`,
			MetricsFile: `C:\Program Files\windows_exporter\textfile_inputs\channel_validator.prom`,
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:     "/var/log/channel-validator/channel-validator.log",
			ConfigPath:  "/usr/local/etc/channel-validator/config.yaml",
			MetricsFile: "/var/tmp/node_exporter/channel_validator.prom",
		}
	default:
		return PlatformDefaults{
			LogFile:     "/var/log/channel-validator/channel-validator.log",
			ConfigPath:  "/etc/channel-validator/config.yaml",
			MetricsFile: "/var/lib/node_exporter/textfile_collector/channel_validator.prom",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults sets viper defaults that depend on the platform.
// Log and metrics files stay opt-in for one-shot commands; the service
// wrapper applies them through ServiceDefaults.
func UpdateConfigDefaults(v *viper.Viper) {
	v.SetDefault("logging.file", "")
	v.SetDefault("report.metrics_file", "")
}

// ServiceDefaults fills the file locations a long-running service needs
// when the configuration leaves them empty
func ServiceDefaults(cfg *Config) {
	defaults := GetPlatformDefaults()
	if cfg.Logging.File == "" {
		cfg.Logging.File = defaults.LogFile
	}
	if cfg.Report.MetricsFile == "" {
		cfg.Report.MetricsFile = defaults.MetricsFile
	}
}
