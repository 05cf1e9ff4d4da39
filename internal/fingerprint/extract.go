// Package fingerprint turns hardware-probe log text and host description
// annotations into comparable Fingerprint records.
//
// Extraction is line-oriented: an ordered list of independent matchers is
// run over every line and each matcher fills at most one field. Nothing in
// this package returns an error; unrecognized or corrupt input simply leaves
// the corresponding field unset.
package fingerprint

import (
	"strconv"
	"strings"
)

// scanState carries the per-document state the matchers need between lines
type scanState struct {
	fp Fingerprint

	cpuSeen  bool // first "CPU(s):" line consumed
	numaSeen bool // past the NUMA section, per-node counts follow

	memSeen     bool
	memTotalCol int // index of "total" within a "Mem:" row

	storage storageTable

	kernelSeen bool
	osSeen     bool
}

// lineMatcher inspects a single line and records anything it recognizes
type lineMatcher func(st *scanState, line string)

// probeMatchers run, in order, over every line of an hw_info probe log
var probeMatchers = []lineMatcher{
	matchCPUCount,
	matchMemTotal,
	matchStorage,
	matchKernel,
	matchOperatingSystem,
}

// Extract parses the text of one hw_info probe log. It never fails: fields it
// cannot recognize are left empty/zero.
func Extract(logText string) Fingerprint {
	return scan(logText, probeMatchers)
}

func scan(text string, matchers []lineMatcher) Fingerprint {
	st := &scanState{memTotalCol: 1}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for _, m := range matchers {
			m(st, line)
		}
	}

	if st.fp.Disk == "" {
		st.fp.Disk = st.storage.size()
	}

	return st.fp
}

// splitLabel splits "Label:   value" into its trimmed parts
func splitLabel(line string) (label, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// matchCPUCount takes the first "CPU(s):" line that appears before any
// "NUMA node" label. lscpu prints per-node "NUMA nodeN CPU(s):" lines later.
func matchCPUCount(st *scanState, line string) {
	if st.cpuSeen || st.numaSeen {
		return
	}

	label, value, ok := splitLabel(line)
	if !ok {
		return
	}

	if strings.HasPrefix(label, "NUMA node") {
		st.numaSeen = true
		return
	}

	if label != "CPU(s)" {
		return
	}

	st.cpuSeen = true
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		st.fp.CPUCount = n
	}
}

// matchMemTotal reads the "total" column of free(1)'s "Mem:" row. The value
// is already in KiB and is passed through unchanged.
func matchMemTotal(st *scanState, line string) {
	if st.memSeen {
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	// Header row: "total used free shared buff/cache available". Data rows
	// carry a leading "Mem:" label the header does not have.
	if fields[0] != "Mem:" && strings.Contains(line, "used") && strings.Contains(line, "free") {
		for i, f := range fields {
			if f == "total" {
				st.memTotalCol = i + 1
				return
			}
		}
	}

	if fields[0] != "Mem:" {
		return
	}

	st.memSeen = true
	if len(fields) <= st.memTotalCol {
		return
	}
	if kib, err := strconv.ParseInt(fields[st.memTotalCol], 10, 64); err == nil && kib > 0 {
		st.fp.RAM = kib
	}
}

// storageTable accumulates df(1) output following its header line
type storageTable struct {
	inTable bool
	sizeCol int
	pending string // device name wrapped onto its own line

	first string
	root  string
}

// size returns the root filesystem size, or the first reported row when no
// row is mounted on "/"
func (t *storageTable) size() string {
	if t.root != "" {
		return t.root
	}
	return t.first
}

func matchStorage(st *scanState, line string) {
	t := &st.storage
	fields := strings.Fields(line)

	if len(fields) > 0 && fields[0] == "Filesystem" && strings.Contains(line, "Mounted on") {
		t.inTable = true
		t.sizeCol = 1
		for i, f := range fields {
			if f == "Size" {
				t.sizeCol = i
				break
			}
		}
		return
	}

	if !t.inTable {
		return
	}

	// A blank line or a new section label ends the table
	if len(fields) == 0 || (len(fields) == 1 && strings.HasSuffix(fields[0], ":")) {
		t.inTable = false
		t.pending = ""
		return
	}

	// df wraps long device names onto a line of their own
	if len(fields) == 1 {
		t.pending = fields[0]
		return
	}
	if t.pending != "" {
		fields = append([]string{t.pending}, fields...)
		t.pending = ""
	}

	// Size column plus at least one column after it for the mount point
	if len(fields) <= t.sizeCol+1 {
		return
	}

	size := fields[t.sizeCol]
	mount := fields[len(fields)-1]

	if t.first == "" {
		t.first = size
	}
	if mount == "/" && t.root == "" {
		t.root = size
	}
}

func matchKernel(st *scanState, line string) {
	if st.kernelSeen {
		return
	}
	label, value, ok := splitLabel(line)
	if !ok || label != "Kernel" {
		return
	}
	st.kernelSeen = true
	st.fp.Kernel = value
}

func matchOperatingSystem(st *scanState, line string) {
	if st.osSeen {
		return
	}
	label, value, ok := splitLabel(line)
	if !ok || label != "Operating System" {
		return
	}
	st.osSeen = true
	st.fp.OperatingSystem = NormalizeOS(value)
}
