package integrations

import (
	"strconv"
	"strings"
)

// ExtractVersion reduces a version string to a number: every digit is kept in
// order and a decimal point is placed after the first one. "2.4.1" is 2.41,
// "v1.16-R3" is 1.163 and a string without digits is 0.
//
// Multi-digit major versions collapse: "10.2" reads as 1.02.
func ExtractVersion(s string) float64 {
	var b strings.Builder
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == 1 {
			b.WriteByte('.')
		}
	}
	if b.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

// VersionPredicate decides whether an extracted version is supported.
type VersionPredicate func(version float64) bool

// AtLeast accepts versions >= min.
func AtLeast(min float64) VersionPredicate {
	return func(v float64) bool { return v >= min }
}

// Below accepts versions < max.
func Below(max float64) VersionPredicate {
	return func(v float64) bool { return v < max }
}
