package fingerprint

import (
	"strconv"
	"strings"
)

// Fingerprint is the hardware/software identity of a single build host.
// Zero values mean "not determined"; a fingerprint is never nil.
type Fingerprint struct {
	CPUCount        int    `json:"cpu_count" yaml:"cpu_count"`
	RAM             int64  `json:"ram_kib" yaml:"ram_kib"` // KiB, as reported by free(1)
	Disk            string `json:"disk" yaml:"disk"`       // literal df Size token, e.g. "198G"
	Kernel          string `json:"kernel" yaml:"kernel"`
	OperatingSystem string `json:"operating_system" yaml:"operating_system"`
}

// Field names used in anomaly reports and metrics labels
const (
	FieldCPUCount        = "cpu_count"
	FieldRAM             = "ram"
	FieldDisk            = "disk"
	FieldKernel          = "kernel"
	FieldOperatingSystem = "operating_system"
)

// Empty reports whether no field at all could be determined
func (f Fingerprint) Empty() bool {
	return f.populated() == 0
}

// Partial reports whether some, but not all, fields are populated
func (f Fingerprint) Partial() bool {
	n := f.populated()
	return n > 0 && n < 5
}

func (f Fingerprint) populated() int {
	n := 0
	if f.CPUCount > 0 {
		n++
	}
	if f.RAM > 0 {
		n++
	}
	if f.Disk != "" {
		n++
	}
	if f.Kernel != "" {
		n++
	}
	if f.OperatingSystem != "" {
		n++
	}
	return n
}

// Key returns the exact equality key over all five fields. Two fingerprints
// share a key iff every field matches, unpopulated fields included, so two
// partial fingerprints only compare equal when they agree on which fields
// are known as well as on the values. String fields are quoted since they
// come from free text.
func (f Fingerprint) Key() string {
	return strings.Join([]string{
		strconv.Itoa(f.CPUCount),
		strconv.FormatInt(f.RAM, 10),
		strconv.Quote(f.Disk),
		strconv.Quote(f.Kernel),
		strconv.Quote(f.OperatingSystem),
	}, "|")
}

// FillFrom copies every field of other into f that f has not determined itself.
// Fields already set on f are never overwritten.
func (f *Fingerprint) FillFrom(other Fingerprint) {
	if f.CPUCount == 0 {
		f.CPUCount = other.CPUCount
	}
	if f.RAM == 0 {
		f.RAM = other.RAM
	}
	if f.Disk == "" {
		f.Disk = other.Disk
	}
	if f.Kernel == "" {
		f.Kernel = other.Kernel
	}
	if f.OperatingSystem == "" {
		f.OperatingSystem = other.OperatingSystem
	}
}

// Difference describes one arch-invariant field on which two fingerprints disagree
type Difference struct {
	Field string
	Want  string
	Got   string
}

// Diff compares the fields a physical host must report identically for every
// architecture it builds (RAM, disk, kernel, OS). CPU count is deliberately
// excluded. A field unset on either side is not a disagreement.
func Diff(want, got Fingerprint) []Difference {
	var diffs []Difference

	if want.RAM > 0 && got.RAM > 0 && want.RAM != got.RAM {
		diffs = append(diffs, Difference{
			Field: FieldRAM,
			Want:  strconv.FormatInt(want.RAM, 10),
			Got:   strconv.FormatInt(got.RAM, 10),
		})
	}
	if want.Disk != "" && got.Disk != "" && want.Disk != got.Disk {
		diffs = append(diffs, Difference{Field: FieldDisk, Want: want.Disk, Got: got.Disk})
	}
	if want.Kernel != "" && got.Kernel != "" && want.Kernel != got.Kernel {
		diffs = append(diffs, Difference{Field: FieldKernel, Want: want.Kernel, Got: got.Kernel})
	}
	if want.OperatingSystem != "" && got.OperatingSystem != "" && want.OperatingSystem != got.OperatingSystem {
		diffs = append(diffs, Difference{Field: FieldOperatingSystem, Want: want.OperatingSystem, Got: got.OperatingSystem})
	}

	return diffs
}
