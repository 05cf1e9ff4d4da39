package buildsys

import "strings"

// Records returned by the build hub. Only the fields the validator reads are
// modelled; the hub returns many more and they are dropped at decode time.

// Channel is one entry of listChannels
type Channel struct {
	ID          int    `xmlrpc:"id" json:"id"`
	Name        string `xmlrpc:"name" json:"name"`
	Description string `xmlrpc:"description" json:"description"`
	Enabled     bool   `xmlrpc:"enabled" json:"enabled"`
}

// Host is one entry of listHosts / getHost
type Host struct {
	ID          int     `xmlrpc:"id" json:"id"`
	Name        string  `xmlrpc:"name" json:"name"`
	Enabled     bool    `xmlrpc:"enabled" json:"enabled"`
	Ready       bool    `xmlrpc:"ready" json:"ready"`
	Arches      string  `xmlrpc:"arches" json:"arches"` // space separated, e.g. "ppc ppc64le"
	Description string  `xmlrpc:"description" json:"description"`
	Comment     string  `xmlrpc:"comment" json:"comment"`
	Capacity    float64 `xmlrpc:"capacity" json:"capacity"`
}

// ArchList splits the hub's space separated arch string
func (h Host) ArchList() []string {
	return strings.Fields(h.Arches)
}

// Task is one entry of listTasks. Build is resolved by the session from the
// parent task and is nil when the task produced no build.
type Task struct {
	ID       int    `xmlrpc:"id" json:"id"`
	ParentID int    `xmlrpc:"parent" json:"parent"`
	HostID   int    `xmlrpc:"host_id" json:"host_id"`
	Method   string `xmlrpc:"method" json:"method"`
	Arch     string `xmlrpc:"arch" json:"arch"`
	Label    string `xmlrpc:"label" json:"label"`
	State    int    `xmlrpc:"state" json:"state"`
	Build    *Build `xmlrpc:"-" json:"build_info,omitempty"`
}

// Build is a getBuild record. Logs is filled from getBuildLogs.
type Build struct {
	ID         int        `xmlrpc:"build_id" json:"build_id"`
	NVR        string     `xmlrpc:"nvr" json:"nvr"`
	Name       string     `xmlrpc:"name" json:"name"`
	Version    string     `xmlrpc:"version" json:"version"`
	Release    string     `xmlrpc:"release" json:"release"`
	VolumeName string     `xmlrpc:"volume_name" json:"volume_name"`
	TaskID     int        `xmlrpc:"task_id" json:"task_id"`
	State      int        `xmlrpc:"state" json:"state"`
	Logs       []BuildLog `xmlrpc:"-" json:"logs,omitempty"`
}

// BuildLog is one getBuildLogs entry. Dir is the architecture directory.
// Path is relative to the hub's top directory.
type BuildLog struct {
	Dir  string `xmlrpc:"dir" json:"dir"`
	Name string `xmlrpc:"name" json:"name"`
	Path string `xmlrpc:"path" json:"path"`
}

// Task states as reported by the hub
const (
	TaskStateFree     = 0
	TaskStateOpen     = 1
	TaskStateClosed   = 2
	TaskStateCanceled = 3
	TaskStateAssigned = 4
	TaskStateFailed   = 5
)
