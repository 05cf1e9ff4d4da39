package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric names exported for node_exporter's textfile collector
const (
	metricChannelHosts     = "channel_validator_channel_hosts"
	metricChannelGroups    = "channel_validator_channel_config_groups"
	metricChannelOutliers  = "channel_validator_channel_outlier_hosts"
	metricChannelAgreement = "channel_validator_channel_agreement_percent"
	metricChannelUnknown   = "channel_validator_channel_unknown_hosts"
	metricChannelErrors    = "channel_validator_channel_host_errors"
	metricHostAnomalies    = "channel_validator_host_anomalies"
	metricHostInMajority   = "channel_validator_host_in_majority"
	metricLastRunTimestamp = "channel_validator_last_run_timestamp_seconds"
)

// MetricFamilies converts a report to Prometheus metric families
func MetricFamilies(r *Report, now time.Time) []*dto.MetricFamily {
	hosts := gaugeFamily(metricChannelHosts, "Hosts grouped in the channel.")
	groups := gaugeFamily(metricChannelGroups, "Config groups found in the channel.")
	outliers := gaugeFamily(metricChannelOutliers, "Hosts outside the channel's majority group.")
	agreement := gaugeFamily(metricChannelAgreement, "Percentage of grouped hosts in the majority group.")
	unknown := gaugeFamily(metricChannelUnknown, "Hosts without any fingerprint data.")
	errs := gaugeFamily(metricChannelErrors, "Hosts that could not be fingerprinted.")
	anomalies := gaugeFamily(metricHostAnomalies, "Cross-architecture disagreements reported by a host.")
	majority := gaugeFamily(metricHostInMajority, "1 if the host belongs to its channel's majority group.")

	for _, ch := range r.Channels {
		channel := label("channel", ch.Name)

		unknownHosts := 0
		for _, g := range ch.Groups {
			if g.Unknown {
				unknownHosts += len(g.Hosts)
			}
			in := 0.0
			if g.Majority {
				in = 1
			}
			for _, h := range g.Hosts {
				majority.Metric = append(majority.Metric, gauge(in, channel, label("host", h.Name)))
			}
		}

		hosts.Metric = append(hosts.Metric, gauge(float64(ch.Hosts), channel))
		groups.Metric = append(groups.Metric, gauge(float64(len(ch.Groups)), channel))
		outliers.Metric = append(outliers.Metric, gauge(float64(len(ch.Outliers)), channel))
		agreement.Metric = append(agreement.Metric, gauge(ch.Agreement, channel))
		unknown.Metric = append(unknown.Metric, gauge(float64(unknownHosts), channel))
		errs.Metric = append(errs.Metric, gauge(float64(len(ch.Errors)), channel))

		for _, ha := range ch.Anomalies {
			anomalies.Metric = append(anomalies.Metric, gauge(float64(len(ha.Anomalies)), channel, label("host", ha.Host)))
		}
	}

	lastRun := gaugeFamily(metricLastRunTimestamp, "Unix time the report was written.")
	lastRun.Metric = append(lastRun.Metric, gauge(float64(now.Unix())))

	families := []*dto.MetricFamily{hosts, groups, outliers, agreement, unknown, errs, anomalies, majority, lastRun}

	// Empty families are not valid exposition
	out := families[:0]
	for _, mf := range families {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

// WriteMetrics encodes the report's metrics in the Prometheus text format
func WriteMetrics(w io.Writer, r *Report, now time.Time) error {
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range MetricFamilies(r, now) {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteMetricsFile writes the metrics to path atomically so node_exporter
// never reads a partial file
func WriteMetricsFile(path string, r *Report, now time.Time) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteMetrics(tmp, r, now); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install metrics file: %w", err)
	}
	return nil
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func gauge(value float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(value)},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}
