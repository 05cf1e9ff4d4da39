package utils

import "math"

// Round rounds a float64 value to 2 decimal places
func Round(val float64) float64 {
	return math.Round(val*100) / 100
}

// KiBToGiB converts a kibibyte count, as reported by free(1), to GiB rounded
// to 2 decimal places
func KiBToGiB(kib int64) float64 {
	return Round(float64(kib) / 1024 / 1024)
}

// Percent returns part as a percentage of total rounded to 2 decimal places,
// or 0 when total is 0
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return Round(float64(part) * 100 / float64(total))
}
