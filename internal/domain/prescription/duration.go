package prescription

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// durationPattern accepts free-text strings like "7 days", "2 weeks" or
// "1 month". Anything else (e.g. "as needed") yields no end date.
var durationPattern = regexp.MustCompile(`(?i)(\d+)\s*(day|days|week|weeks|month|months)`)

// EndDateFor derives the end date from a free-text duration and a start
// date. Month arithmetic is calendar-based, so month lengths vary. A
// string that does not match the pattern returns nil.
func EndDateFor(duration string, start time.Time) *time.Time {
	m := durationPattern.FindStringSubmatch(duration)
	if m == nil {
		return nil
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}

	unit := strings.TrimSuffix(strings.ToLower(m[2]), "s")

	var end time.Time
	switch unit {
	case "day":
		end = start.AddDate(0, 0, n)
	case "week":
		end = start.AddDate(0, 0, n*7)
	case "month":
		end = start.AddDate(0, n, 0)
	default:
		return nil
	}
	return &end
}
