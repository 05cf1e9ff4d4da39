// Package validator holds the channel/host model and the audit pipeline:
// collecting channels, fingerprinting hosts from their probe logs and
// partitioning each channel into configuration groups.
package validator

import (
	"slices"
	"sort"
	"strconv"

	"github.com/stone-age-io/channel-validator/internal/buildsys"
	"github.com/stone-age-io/channel-validator/internal/fingerprint"
)

// Source records where a host's fingerprint came from
type Source string

const (
	SourceNone        Source = "none"
	SourceTaskLog     Source = "task-log"
	SourceDescription Source = "description"
)

// Anomaly is a cross-architecture disagreement on a field a single physical
// host must report identically. Reference is the arch whose value was kept.
type Anomaly struct {
	Arch      string `json:"arch" yaml:"arch"`
	Reference string `json:"reference_arch" yaml:"reference_arch"`
	Field     string `json:"field" yaml:"field"`
	Want      string `json:"want" yaml:"want"`
	Got       string `json:"got" yaml:"got"`
}

// Host is one build worker of a channel
type Host struct {
	ID          int      `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Arches      []string `json:"arches" yaml:"arches"`
	Description string   `json:"-" yaml:"-"`

	Fingerprint fingerprint.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Source      Source                  `json:"source" yaml:"source"`
	ArchCPUs    map[string]int          `json:"arch_cpus,omitempty" yaml:"arch_cpus,omitempty"`
	Anomalies   []Anomaly               `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	BuildID     int                     `json:"build_id,omitempty" yaml:"build_id,omitempty"`

	// Error is set when fingerprinting failed during an audit
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Tasks is the host's recent task list, newest first. Left nil until the
	// aggregator needs it.
	Tasks []buildsys.Task `json:"-" yaml:"-"`

	populated bool
}

// NewHost builds a Host from a hub record. The fingerprint is left empty.
func NewHost(h buildsys.Host) *Host {
	return &Host{
		ID:          h.ID,
		Name:        h.Name,
		Enabled:     h.Enabled,
		Arches:      h.ArchList(),
		Description: h.Description,
		Source:      SourceNone,
	}
}

// HasArch reports whether arch is in the host's arch set
func (h *Host) HasArch(arch string) bool {
	return slices.Contains(h.Arches, arch)
}

func (h *Host) addArch(arch string) {
	if arch != "" && !h.HasArch(arch) {
		h.Arches = append(h.Arches, arch)
	}
}

// Anomalous reports whether the host's architectures disagreed
func (h *Host) Anomalous() bool {
	return len(h.Anomalies) > 0
}

// ArchCPUSummary renders per-arch CPU counts as "arch=n" pairs in arch order
func (h *Host) ArchCPUSummary() []string {
	arches := make([]string, 0, len(h.ArchCPUs))
	for arch := range h.ArchCPUs {
		arches = append(arches, arch)
	}
	sort.Strings(arches)

	out := make([]string, 0, len(arches))
	for _, arch := range arches {
		out = append(out, arch+"="+strconv.Itoa(h.ArchCPUs[arch]))
	}
	return out
}

// Populated reports whether the aggregator has run for this host
func (h *Host) Populated() bool {
	return h.populated
}

// Channel is a named pool of build hosts
type Channel struct {
	ID    int     `json:"id" yaml:"id"`
	Name  string  `json:"name" yaml:"name"`
	Hosts []*Host `json:"hosts" yaml:"hosts"`

	// ConfigGroups is only meaningful after ConfigCheck has run
	ConfigGroups []*ConfigGroup `json:"-" yaml:"-"`
}

// NewChannel builds an empty Channel from a hub record
func NewChannel(c buildsys.Channel) *Channel {
	return &Channel{ID: c.ID, Name: c.Name}
}

// EnabledHosts returns the hosts currently accepting work, in channel order
func (c *Channel) EnabledHosts() []*Host {
	var hosts []*Host
	for _, h := range c.Hosts {
		if h.Enabled {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// ConfigGroup is a set of hosts sharing an identical fingerprint. The hosts
// are still owned by the channel's host list.
type ConfigGroup struct {
	Key         string                  `json:"key" yaml:"key"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Hosts       []*Host                 `json:"-" yaml:"-"`

	// Unknown marks the group of hosts with no fingerprint data at all
	Unknown bool `json:"unknown" yaml:"unknown"`
}

// HostNames returns the member names in group order
func (g *ConfigGroup) HostNames() []string {
	names := make([]string, 0, len(g.Hosts))
	for _, h := range g.Hosts {
		names = append(names, h.Name)
	}
	return names
}
