// Package report turns audited channels into the operator-facing drift
// report and its text, JSON, YAML and Prometheus textfile renderings.
package report

import (
	"time"

	"github.com/stone-age-io/channel-validator/internal/fingerprint"
	"github.com/stone-age-io/channel-validator/internal/utils"
	"github.com/stone-age-io/channel-validator/internal/validator"
)

// Report is the result of one audit run
type Report struct {
	Meta     Meta            `json:"meta" yaml:"meta"`
	Channels []ChannelReport `json:"channels" yaml:"channels"`
}

// ChannelReport summarises the config groups of one channel
type ChannelReport struct {
	ID         int           `json:"id" yaml:"id"`
	Name       string        `json:"name" yaml:"name"`
	Hosts      int           `json:"hosts" yaml:"hosts"`
	Consistent bool          `json:"consistent" yaml:"consistent"`
	Agreement  float64       `json:"agreement_percent" yaml:"agreement_percent"`
	Groups     []GroupReport `json:"groups" yaml:"groups"`

	Outliers  []string      `json:"outliers,omitempty" yaml:"outliers,omitempty"`
	Disabled  []string      `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Anomalies []HostAnomaly `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Errors    []HostError   `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// GroupReport is one config group. Exactly one populated group per channel
// is the majority; every other group is an outlier group.
type GroupReport struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Hosts       []HostEntry             `json:"hosts" yaml:"hosts"`
	Majority    bool                    `json:"majority" yaml:"majority"`
	Unknown     bool                    `json:"unknown" yaml:"unknown"`
}

// HostEntry is one host of a group
type HostEntry struct {
	ID       int              `json:"id" yaml:"id"`
	Name     string           `json:"name" yaml:"name"`
	Arches   []string         `json:"arches" yaml:"arches"`
	Source   validator.Source `json:"source" yaml:"source"`
	ArchCPUs []string         `json:"arch_cpus,omitempty" yaml:"arch_cpus,omitempty"`
}

// HostAnomaly lists the cross-architecture disagreements of one host
type HostAnomaly struct {
	Host      string              `json:"host" yaml:"host"`
	Anomalies []validator.Anomaly `json:"anomalies" yaml:"anomalies"`
}

// HostError records a host that could not be fingerprinted
type HostError struct {
	Host  string `json:"host" yaml:"host"`
	Error string `json:"error" yaml:"error"`
}

// New builds a report from checked channels
func New(meta Meta, channels []*validator.Channel) *Report {
	r := &Report{Meta: meta, Channels: make([]ChannelReport, 0, len(channels))}
	for _, ch := range channels {
		r.Channels = append(r.Channels, NewChannelReport(ch))
	}
	return r
}

// NewChannelReport summarises one channel. ConfigCheck (or an audit) must
// have run on it.
func NewChannelReport(ch *validator.Channel) ChannelReport {
	cr := ChannelReport{ID: ch.ID, Name: ch.Name}

	grouped := make(map[*validator.Host]bool)
	majority := Majority(ch.ConfigGroups)

	for i, g := range ch.ConfigGroups {
		gr := GroupReport{
			Fingerprint: g.Fingerprint,
			Majority:    i == majority,
			Unknown:     g.Unknown,
		}
		for _, h := range g.Hosts {
			grouped[h] = true
			gr.Hosts = append(gr.Hosts, HostEntry{
				ID:       h.ID,
				Name:     h.Name,
				Arches:   h.Arches,
				Source:   h.Source,
				ArchCPUs: h.ArchCPUSummary(),
			})
			if i != majority {
				cr.Outliers = append(cr.Outliers, h.Name)
			}
		}
		cr.Hosts += len(g.Hosts)
		cr.Groups = append(cr.Groups, gr)
	}

	for _, h := range ch.Hosts {
		if !h.Enabled && !grouped[h] {
			cr.Disabled = append(cr.Disabled, h.Name)
		}
		if h.Anomalous() {
			cr.Anomalies = append(cr.Anomalies, HostAnomaly{Host: h.Name, Anomalies: h.Anomalies})
		}
		if h.Error != "" {
			cr.Errors = append(cr.Errors, HostError{Host: h.Name, Error: h.Error})
		}
	}

	if majority >= 0 {
		cr.Agreement = utils.Percent(len(ch.ConfigGroups[majority].Hosts), cr.Hosts)
	}
	cr.Consistent = len(cr.Outliers) == 0 && len(cr.Anomalies) == 0
	return cr
}

// Majority returns the index of the largest populated group, the earliest
// one on a tie, or -1 when every group is unknown
func Majority(groups []*validator.ConfigGroup) int {
	best := -1
	for i, g := range groups {
		if g.Unknown {
			continue
		}
		if best < 0 || len(g.Hosts) > len(groups[best].Hosts) {
			best = i
		}
	}
	return best
}

// Meta identifies the run that produced a report
type Meta struct {
	GeneratedAt string `json:"generated_at" yaml:"generated_at"`
	Version     string `json:"version" yaml:"version"`
	Hostname    string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Platform    string `json:"platform,omitempty" yaml:"platform,omitempty"`
	HubURL      string `json:"hub_url,omitempty" yaml:"hub_url,omitempty"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
