package fingerprint

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// descriptionMatchers run over a host's free-text description annotation,
// which operators maintain by hand in a "Label: value" layout, e.g.
//
//	Operating System: RedHat 8.2
//	Kernel: 4.18.0-193.28.1.el8_2.ppc64le
//	vCPU Count: 8
//	Total Memory: 23.497 gb
var descriptionMatchers = []lineMatcher{
	matchDescriptionCPU,
	matchDescriptionMemory,
	matchDescriptionDisk,
	matchKernel,
	matchOperatingSystem,
}

// ParseDescription extracts a lower-confidence fingerprint from a host
// description. Like Extract it never fails.
func ParseDescription(description string) Fingerprint {
	return scan(description, descriptionMatchers)
}

func matchDescriptionCPU(st *scanState, line string) {
	if st.cpuSeen {
		return
	}
	label, value, ok := splitLabel(line)
	if !ok {
		return
	}
	switch label {
	case "vCPU Count", "CPU Count", "CPU(s)", "CPUs":
	default:
		return
	}
	st.cpuSeen = true
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		st.fp.CPUCount = n
	}
}

func matchDescriptionMemory(st *scanState, line string) {
	if st.memSeen {
		return
	}
	label, value, ok := splitLabel(line)
	if !ok || (label != "Total Memory" && label != "Memory") {
		return
	}
	st.memSeen = true
	st.fp.RAM = parseMemoryKiB(value)
}

func matchDescriptionDisk(st *scanState, line string) {
	if st.fp.Disk != "" {
		return
	}
	label, value, ok := splitLabel(line)
	if !ok || (label != "Disk" && label != "Disk Size") {
		return
	}
	if fields := strings.Fields(value); len(fields) > 0 {
		st.fp.Disk = fields[0]
	}
}

// memoryUnits maps a lower-cased unit suffix to its size in KiB
var memoryUnits = map[string]float64{
	"":    1,
	"k":   1,
	"kb":  1,
	"kib": 1,
	"m":   1024,
	"mb":  1024,
	"mib": 1024,
	"g":   1024 * 1024,
	"gb":  1024 * 1024,
	"gib": 1024 * 1024,
	"t":   1024 * 1024 * 1024,
	"tb":  1024 * 1024 * 1024,
	"tib": 1024 * 1024 * 1024,
}

// parseMemoryKiB converts "23.497 gb" style values to KiB. Unparseable input
// and sizes beyond int64 yield 0.
func parseMemoryKiB(value string) int64 {
	value = strings.TrimSpace(value)
	end := strings.IndexFunc(value, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	number, unit := value, ""
	if end >= 0 {
		number, unit = value[:end], strings.ToLower(strings.TrimSpace(value[end:]))
	}

	n, err := strconv.ParseFloat(number, 64)
	if err != nil || n <= 0 {
		return 0
	}
	mult, ok := memoryUnits[unit]
	if !ok {
		return 0
	}
	kib := math.Round(n * mult)
	if math.IsInf(kib, 0) || kib >= math.MaxInt64 {
		return 0
	}
	return int64(kib)
}

var osAliases = []struct {
	prefix string
	name   string
}{
	{"Red Hat Enterprise Linux Server", "RedHat"},
	{"Red Hat Enterprise Linux", "RedHat"},
	{"Red Hat", "RedHat"},
	{"RHEL", "RedHat"},
}

// NormalizeOS reduces an operating system string to "<Distro> <Major.Minor>".
// "Red Hat Enterprise Linux release 8.2 (Ootpa)" and "RedHat 8.2" both become
// "RedHat 8.2". Strings it does not understand are returned whitespace-collapsed.
func NormalizeOS(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}

	// Drop a trailing codename such as "(Ootpa)"
	if last := fields[len(fields)-1]; strings.HasPrefix(last, "(") && strings.HasSuffix(last, ")") && len(fields) > 1 {
		fields = fields[:len(fields)-1]
	}

	s := strings.Join(fields, " ")
	for _, alias := range osAliases {
		if s == alias.prefix || strings.HasPrefix(s, alias.prefix+" ") {
			s = alias.name + s[len(alias.prefix):]
			break
		}
	}

	fields = strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if f != "release" {
			kept = append(kept, f)
		}
	}
	fields = kept

	if len(fields) > 0 {
		fields[len(fields)-1] = majorMinor(fields[len(fields)-1])
	}
	return strings.Join(fields, " ")
}

// majorMinor truncates a dotted version ("8.2.1") to its first two components.
// Tokens that do not start with a digit are returned unchanged.
func majorMinor(token string) string {
	if token == "" || token[0] < '0' || token[0] > '9' {
		return token
	}
	parts := strings.Split(token, ".")
	if len(parts) <= 2 {
		return token
	}
	return parts[0] + "." + parts[1]
}
