package commands

import (
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/stone-age-io/channel-validator/internal/agent"
	"github.com/stone-age-io/channel-validator/internal/config"
	"go.uber.org/zap"
)

// program adapts the watch-mode agent to the OS service manager
type program struct {
	cfg    *config.Config
	logger *zap.Logger
	agent  *agent.Agent
}

func (p *program) Start(s service.Service) error {
	a, err := agent.New(p.cfg, p.logger, Version)
	if err != nil {
		return err
	}
	p.agent = a

	go func() {
		if err := a.Run(); err != nil {
			p.logger.Error("Agent stopped with error", zap.Error(err))
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent != nil {
		p.agent.Stop()
	}
	return nil
}

// newService builds the service definition. The installed service runs
// "service run" with the config file given at install time.
func newService(p *program) (service.Service, error) {
	args := []string{"service", "run"}
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		args = append(args, "--config", abs)
	}

	svcConfig := &service.Config{
		Name:        "channel-validator",
		DisplayName: "Channel Validator",
		Description: "Audits build channels for hosts with drifting hardware configuration.",
		Arguments:   args,
	}
	return service.New(p, svcConfig)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage channel-validator as an OS service",
}

var serviceRunCmd = &cobra.Command{
	Use:         "run",
	Short:       "Run under the service manager (watch mode)",
	Annotations: map[string]string{annotationServiceDefaults: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newService(&program{cfg: cfg, logger: logger})
		if err != nil {
			return err
		}
		return s.Run()
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show the service status",
	Annotations: map[string]string{annotationNoConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newService(&program{})
		if err != nil {
			return err
		}
		status, err := s.Status()
		if err != nil {
			return fmt.Errorf("failed to query service: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), statusName(status))
		return nil
	},
}

func statusName(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// controlCommand wraps one service.Control action
func controlCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:         action,
		Short:       short,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService(&program{})
			if err != nil {
				return err
			}
			if err := service.Control(s, action); err != nil {
				return fmt.Errorf("failed to %s service: %w", action, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
			return nil
		},
	}
}

func init() {
	serviceCmd.AddCommand(
		controlCommand("install", "Install the service"),
		controlCommand("uninstall", "Remove the service"),
		controlCommand("start", "Start the installed service"),
		controlCommand("stop", "Stop the running service"),
		controlCommand("restart", "Restart the service"),
		serviceStatusCmd,
		serviceRunCmd,
	)
}
