package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/channel-validator/internal/agent"
	"github.com/stone-age-io/channel-validator/internal/config"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X .../internal/commands.Version=..."
var Version = "dev"

// Command annotations read by setup
const (
	annotationNoConfig        = "no-config"
	annotationServiceDefaults = "service-defaults"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "channel-validator",
	Short: "Audit build channels for hosts with drifting hardware configuration",
	Long: `channel-validator fingerprints every builder host of a build system from the
hardware probe logs its recent builds uploaded, then groups the hosts of each
channel by identical configuration. Hosts outside a channel's majority group,
and hosts whose architectures disagree with each other, are reported as drift.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default: %s)", config.GetDefaultConfigPath()))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

// setup loads the configuration and creates the logger for every command
// that needs them
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[annotationNoConfig] != "" {
		return nil
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cmd.Annotations[annotationServiceDefaults] != "" {
		config.ServiceDefaults(cfg)
	}

	logger, err = agent.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
