// Package duration parses and formats the human-readable duration
// strings accepted by the /v1/cache query filters ("1y2d3h4m5s").
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
)

var segmentPattern = regexp.MustCompile(`(\d+)([smhdwMy])`)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// Parse sums one or more <digits><unit> segments (s, m, h, d, w, M, y)
// into a single time.Duration. An empty or unmatched input is an error.
func Parse(input string) (time.Duration, error) {
	matches := segmentPattern.FindAllStringSubmatch(input, -1)
	if len(matches) == 0 {
		return 0, doomsdayerr.New(doomsdayerr.InvalidInput, fmt.Sprintf("no valid duration segments in %q", input))
	}

	var total time.Duration
	for _, m := range matches {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, doomsdayerr.Wrap(doomsdayerr.InvalidInput, err)
		}

		switch m[2] {
		case "s":
			total += time.Duration(n) * time.Second
		case "m":
			total += time.Duration(n) * time.Minute
		case "h":
			total += time.Duration(n) * time.Hour
		case "d":
			total += time.Duration(n) * day
		case "w":
			total += time.Duration(n) * week
		case "M":
			total += time.Duration(n) * month
		case "y":
			total += time.Duration(n) * year
		default:
			return 0, doomsdayerr.New(doomsdayerr.InvalidInput, fmt.Sprintf("unknown duration unit %q", m[2]))
		}
	}

	return total, nil
}

// FormatHuman renders a duration as nonzero segments from largest to
// smallest ("1y2d3h4m5s"). Negative durations render as "expired".
func FormatHuman(d time.Duration) string {
	if d < 0 {
		return "expired"
	}

	remaining := int64(d.Seconds())
	var out string

	units := []struct {
		suffix  string
		seconds int64
	}{
		{"y", 365 * 24 * 3600},
		{"d", 24 * 3600},
		{"h", 3600},
		{"m", 60},
	}

	for _, u := range units {
		if n := remaining / u.seconds; n > 0 {
			out += fmt.Sprintf("%d%s", n, u.suffix)
			remaining %= u.seconds
		}
	}

	if remaining > 0 || out == "" {
		out += fmt.Sprintf("%ds", remaining)
	}

	return out
}
