package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/stone-age-io/channel-validator/internal/fingerprint"
	"github.com/stone-age-io/channel-validator/internal/utils"
	"gopkg.in/yaml.v3"
)

// Supported output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Write renders r to w in the given format
func Write(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatText, "":
		return writeText(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

func writeText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Audit %s by %s (version %s)\n", r.Meta.GeneratedAt, orDash(r.Meta.Hostname), r.Meta.Version)

	for _, ch := range r.Channels {
		status := "consistent"
		if !ch.Consistent {
			status = "DRIFT"
		}
		fmt.Fprintf(tw, "\nChannel %s (%d): %d hosts, %d config groups, %.2f%% agree, %s\n",
			ch.Name, ch.ID, ch.Hosts, len(ch.Groups), ch.Agreement, status)

		for _, g := range ch.Groups {
			label := "outlier"
			switch {
			case g.Unknown:
				label = "no data"
			case g.Majority:
				label = "majority"
			}
			fmt.Fprintf(tw, "  [%s]\t%d hosts\t%s\n", label, len(g.Hosts), describe(g.Fingerprint))
			for _, h := range g.Hosts {
				fmt.Fprintf(tw, "    %s\t%s\t%s\t%s\n", h.Name, strings.Join(h.Arches, ","), h.Source, strings.Join(h.ArchCPUs, " "))
			}
		}

		if len(ch.Anomalies) > 0 {
			fmt.Fprintln(tw, "  Architecture disagreements:")
			for _, ha := range ch.Anomalies {
				for _, a := range ha.Anomalies {
					fmt.Fprintf(tw, "    %s\t%s\t%s=%s\tvs %s=%s\n", ha.Host, a.Field, a.Reference, a.Want, a.Arch, a.Got)
				}
			}
		}
		if len(ch.Errors) > 0 {
			fmt.Fprintln(tw, "  Not fingerprinted:")
			for _, e := range ch.Errors {
				fmt.Fprintf(tw, "    %s\t%s\n", e.Host, e.Error)
			}
		}
		if len(ch.Disabled) > 0 {
			fmt.Fprintf(tw, "  Disabled: %s\n", strings.Join(ch.Disabled, ", "))
		}
	}

	return tw.Flush()
}

// describe renders a fingerprint on one line
func describe(fp fingerprint.Fingerprint) string {
	if fp.Empty() {
		return "-"
	}
	parts := []string{
		"cpus=" + orDash(itoa(fp.CPUCount)),
		"ram=" + ramGiB(fp.RAM),
		"disk=" + orDash(fp.Disk),
		"kernel=" + orDash(fp.Kernel),
		"os=" + orDash(fp.OperatingSystem),
	}
	return strings.Join(parts, " ")
}

func ramGiB(kib int64) string {
	if kib <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fGiB", utils.KiBToGiB(kib))
}

func itoa(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprint(n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
