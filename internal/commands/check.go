package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/channel-validator/internal/agent"
	"github.com/stone-age-io/channel-validator/internal/report"
)

// ErrDrift is returned by check --fail-on-drift when a channel is not consistent
var ErrDrift = errors.New("configuration drift detected")

var checkFlags struct {
	format          string
	output          string
	metricsFile     string
	includeDisabled bool
	failOnDrift     bool
}

var checkCmd = &cobra.Command{
	Use:   "check [channel...]",
	Short: "Audit all or the named channels once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("format") {
			cfg.Report.Format = checkFlags.format
		}
		if cmd.Flags().Changed("output") {
			cfg.Report.Output = checkFlags.output
		}
		if cmd.Flags().Changed("metrics-file") {
			cfg.Report.MetricsFile = checkFlags.metricsFile
		}
		if cmd.Flags().Changed("include-disabled") {
			cfg.Audit.IncludeDisabled = checkFlags.includeDisabled
		}

		names := cfg.Audit.Channels
		if len(args) > 0 {
			names = args
		}

		components, err := agent.NewComponents(cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()

		ctx := cmd.Context()
		res, err := components.Auditor.Run(ctx, names)
		if err != nil {
			return err
		}

		r := report.New(report.NewMeta(ctx, Version, cfg.BuildSys.HubURL, logger), res.Channels)
		if err := agent.WriteReport(cfg.Report, r, cmd.OutOrStdout()); err != nil {
			return err
		}
		if cfg.Report.MetricsFile != "" {
			if err := report.WriteMetricsFile(cfg.Report.MetricsFile, r, time.Now()); err != nil {
				return err
			}
		}

		if checkFlags.failOnDrift {
			drifted := 0
			for _, ch := range r.Channels {
				if !ch.Consistent {
					drifted++
				}
			}
			if drifted > 0 {
				return fmt.Errorf("%w in %d channel(s)", ErrDrift, drifted)
			}
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkFlags.format, "format", "f", "text", "report format (text, json, yaml)")
	checkCmd.Flags().StringVarP(&checkFlags.output, "output", "o", "", "write the report to a file instead of stdout")
	checkCmd.Flags().StringVar(&checkFlags.metricsFile, "metrics-file", "", "also write a node_exporter textfile")
	checkCmd.Flags().BoolVar(&checkFlags.includeDisabled, "include-disabled", false, "fingerprint and group disabled hosts too")
	checkCmd.Flags().BoolVar(&checkFlags.failOnDrift, "fail-on-drift", false, "exit non-zero when any channel drifts")
}
