package commands

import (
	"github.com/spf13/cobra"
	"github.com/stone-age-io/channel-validator/internal/agent"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Audit on a schedule, publish reports and answer NATS commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := agent.New(cfg, logger, Version)
		if err != nil {
			return err
		}
		return a.Run()
	},
}
