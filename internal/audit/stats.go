package audit

import (
	"sync"
	"time"
)

// Stats tracks audit runs for self-monitoring. Safe for concurrent use.
type Stats struct {
	mu sync.RWMutex

	startTime time.Time

	runs         int64
	failures     int64
	hostsAudited int64
	hostErrors   int64

	lastRun       time.Time
	lastDuration  time.Duration
	lastError     string
	lastErrorTime time.Time
}

// StatsSnapshot is the JSON form of Stats served by the health command
type StatsSnapshot struct {
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Runs            int64   `json:"runs"`
	Failures        int64   `json:"failures"`
	HostsAudited    int64   `json:"hosts_audited"`
	HostErrors      int64   `json:"host_errors"`
	LastRun         string  `json:"last_run,omitempty"`
	LastDurationSec float64 `json:"last_duration_seconds,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
	LastErrorTime   string  `json:"last_error_time,omitempty"`
}

// NewStats creates an empty Stats
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// RecordRun records a completed audit run
func (s *Stats) RecordRun(res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.hostsAudited += int64(res.HostsAudited)
	s.hostErrors += int64(res.HostErrors)
	s.lastRun = res.Finished
	s.lastDuration = res.Finished.Sub(res.Started)
}

// RecordFailure records an audit run aborted by err
func (s *Stats) RecordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastError = err.Error()
	s.lastErrorTime = time.Now()
}

// Snapshot returns a point-in-time copy
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatsSnapshot{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runs:          s.runs,
		Failures:      s.failures,
		HostsAudited:  s.hostsAudited,
		HostErrors:    s.hostErrors,
	}

	// Only include timestamps once something happened
	if !s.lastRun.IsZero() {
		snap.LastRun = s.lastRun.Format(time.RFC3339)
		snap.LastDurationSec = s.lastDuration.Seconds()
	}
	if !s.lastErrorTime.IsZero() {
		snap.LastError = s.lastError
		snap.LastErrorTime = s.lastErrorTime.Format(time.RFC3339)
	}

	return snap
}
