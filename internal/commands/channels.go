package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/channel-validator/internal/buildsys"
	"github.com/stone-age-io/channel-validator/internal/validator"
)

var channelsCmd = &cobra.Command{
	Use:   "channels [channel...]",
	Short: "List channels and their hosts without fingerprinting",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := buildsys.NewSession(buildsys.Options{
			HubURL:     cfg.BuildSys.HubURL,
			Timeout:    cfg.BuildSys.Timeout,
			TaskMethod: cfg.BuildSys.TaskMethod,
		}, logger)
		if err != nil {
			return err
		}
		defer session.Close()

		channels, err := validator.CollectNamed(cmd.Context(), session, args, logger)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCHANNEL\tHOSTS\tENABLED\tARCHES")
		for _, ch := range channels {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", ch.ID, ch.Name, len(ch.Hosts), len(ch.EnabledHosts()), archSummary(ch))
		}
		return tw.Flush()
	},
}

// archSummary lists the distinct configured arches of a channel's hosts in
// first-seen order
func archSummary(ch *validator.Channel) string {
	seen := make(map[string]bool)
	out := ""
	for _, h := range ch.Hosts {
		for _, arch := range h.Arches {
			if seen[arch] {
				continue
			}
			seen[arch] = true
			if out != "" {
				out += ","
			}
			out += arch
		}
	}
	if out == "" {
		return "-"
	}
	return out
}
