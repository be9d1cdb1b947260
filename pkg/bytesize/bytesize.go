// Package bytesize parses and formats human-readable byte sizes using
// binary (1024) units.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

// Binary size constants.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var unitMultipliers = map[string]Size{
	"":      B,
	"b":     B,
	"byte":  B,
	"bytes": B,
	"k":     KB,
	"kb":    KB,
	"kib":   KB,
	"m":     MB,
	"mb":    MB,
	"mib":   MB,
	"g":     GB,
	"gb":    GB,
	"gib":   GB,
	"t":     TB,
	"tb":    TB,
	"tib":   TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses strings like "2GiB", "1.5 GB", "500kb", or "1024" (bare
// numbers are bytes).
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier, ok := unitMultipliers[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", matches[2])
	}

	return Size(value * float64(multiplier)), nil
}

// MustParse is Parse, panicking on error. For constants only.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders a size with the largest unit that keeps the value >= 1,
// e.g. 1610612736 -> "1.5GiB".
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	negative := s < 0
	if negative {
		s = -s
	}

	units := []struct {
		size Size
		name string
	}{
		{TB, "TiB"},
		{GB, "GiB"},
		{MB, "MiB"},
		{KB, "KiB"},
	}

	out := fmt.Sprintf("%dB", s)
	for _, u := range units {
		if s >= u.size {
			value := float64(s) / float64(u.size)
			out = strings.TrimSuffix(fmt.Sprintf("%.1f", value), ".0") + u.name
			break
		}
	}

	if negative {
		out = "-" + out
	}
	return out
}

// Int64 returns the size as int64.
func (s Size) Int64() int64 {
	return int64(s)
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
