package config

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnits maps suffixes to multipliers. Longer suffixes come first so
// "MiB" is not read as "B".
var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"GIB", 1 << 30},
	{"MIB", 1 << 20},
	{"KIB", 1 << 10},
	{"GB", 1_000_000_000},
	{"MB", 1_000_000},
	{"KB", 1_000},
	{"B", 1},
}

// ParseSize converts a human-readable size such as "10MiB" or "4MB" to
// bytes. Both SI and IEC suffixes are accepted; a bare number is bytes.
// Empty string and "0" return 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	upper := strings.ToUpper(s)
	numStr, multiplier := s, int64(1)

	for _, u := range sizeUnits {
		if strings.HasSuffix(upper, u.suffix) {
			numStr = strings.TrimSpace(s[:len(s)-len(u.suffix)])
			multiplier = u.multiplier

			break
		}
	}

	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	return int64(n * float64(multiplier)), nil
}
