// Package interval parses configuration durations. Values are accepted
// either as ISO-8601 durations ("PT4H", "P1DT30M") or as plain integer
// minutes ("240"), which is how the allowance settings have historically
// been written.
package interval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse converts a duration string into a time.Duration.
// Supported forms:
//   - plain non-negative integer minutes: "240"
//   - ISO-8601 durations with day/time components: "PT4H", "PT30M",
//     "P1D", "P1DT12H30M15S"
//
// Weeks, months and years are not supported; neither are negative or
// fractional components.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if m, err := strconv.Atoi(s); err == nil {
		if m < 0 {
			return 0, fmt.Errorf("negative minutes: %d", m)
		}
		return time.Duration(m) * time.Minute, nil
	}

	up := strings.ToUpper(s)
	if !strings.HasPrefix(up, "P") {
		return 0, fmt.Errorf("invalid duration %q: expected integer minutes or ISO-8601", s)
	}
	return parseISO(s, up[1:])
}

// parseISO parses the part of an ISO-8601 duration after the leading "P".
func parseISO(orig, rest string) (time.Duration, error) {
	var d time.Duration
	inTime := false
	seen := false

	for len(rest) > 0 {
		if rest[0] == 'T' || rest[0] == 't' {
			if inTime {
				return 0, fmt.Errorf("invalid duration %q: repeated T", orig)
			}
			inTime = true
			rest = rest[1:]
			continue
		}

		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", orig, err)
		}

		unit := rest[i]
		rest = rest[i+1:]
		seen = true

		switch {
		case !inTime && (unit == 'D' || unit == 'd'):
			d += time.Duration(n) * 24 * time.Hour
		case inTime && (unit == 'H' || unit == 'h'):
			d += time.Duration(n) * time.Hour
		case inTime && (unit == 'M' || unit == 'm'):
			d += time.Duration(n) * time.Minute
		case inTime && (unit == 'S' || unit == 's'):
			d += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q: unsupported designator %q", orig, string(unit))
		}
	}

	if !seen {
		return 0, fmt.Errorf("invalid duration %q: no components", orig)
	}
	return d, nil
}
