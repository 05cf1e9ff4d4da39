package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/channel-validator/internal/agent"
	"github.com/stone-age-io/channel-validator/internal/utils"
	"github.com/stone-age-io/channel-validator/internal/validator"
	"gopkg.in/yaml.v3"
)

var hostFormat string

var hostCmd = &cobra.Command{
	Use:   "host <name-or-id>",
	Short: "Fingerprint a single host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		components, err := agent.NewComponents(cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()

		host, err := components.Auditor.AuditHost(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeHost(cmd.OutOrStdout(), host, hostFormat)
	},
}

func init() {
	hostCmd.Flags().StringVarP(&hostFormat, "format", "f", "text", "output format (text, json, yaml)")
}

func writeHost(w io.Writer, host *validator.Host, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(host)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(host); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	fp := host.Fingerprint
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Host:\t%s (%d)\n", host.Name, host.ID)
	fmt.Fprintf(tw, "Enabled:\t%t\n", host.Enabled)
	fmt.Fprintf(tw, "Arches:\t%s\n", strings.Join(host.Arches, " "))
	fmt.Fprintf(tw, "Source:\t%s\n", host.Source)
	if host.BuildID != 0 {
		fmt.Fprintf(tw, "Build:\t%d\n", host.BuildID)
	}
	fmt.Fprintf(tw, "CPUs:\t%d\t%s\n", fp.CPUCount, strings.Join(host.ArchCPUSummary(), " "))
	fmt.Fprintf(tw, "RAM:\t%d KiB\t(%.2f GiB)\n", fp.RAM, utils.KiBToGiB(fp.RAM))
	fmt.Fprintf(tw, "Disk:\t%s\n", fp.Disk)
	fmt.Fprintf(tw, "Kernel:\t%s\n", fp.Kernel)
	fmt.Fprintf(tw, "OS:\t%s\n", fp.OperatingSystem)
	for _, a := range host.Anomalies {
		fmt.Fprintf(tw, "Anomaly:\t%s\t%s=%s vs %s=%s\n", a.Field, a.Reference, a.Want, a.Arch, a.Got)
	}
	return tw.Flush()
}
