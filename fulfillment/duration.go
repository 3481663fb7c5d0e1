package fulfillment

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultExpiry applies when a duration string cannot be parsed.
const DefaultExpiry = 30 * 24 * time.Hour

var durationPattern = regexp.MustCompile(`^(\d+)\s*-?\s*(hours?|hrs?|h|days?|d|weeks?|wks?|w|months?|mos?|years?|yrs?|y)$`)

// Expiry turns a product duration such as "30 Days", "2 Weeks" or "Lifetime"
// into an expiry time relative to from. A nil time means the license never
// expires. ok is false when the string was not understood and the 30 day
// default was used instead.
func Expiry(duration string, from time.Time) (expiresAt *time.Time, ok bool) {
	s := strings.ToLower(strings.TrimSpace(duration))

	switch s {
	case "lifetime", "permanent", "forever", "unlimited", "life time":
		return nil, true
	case "daily":
		return at(from.AddDate(0, 0, 1)), true
	case "weekly":
		return at(from.AddDate(0, 0, 7)), true
	case "monthly":
		return at(from.AddDate(0, 1, 0)), true
	case "yearly", "annual", "annually":
		return at(from.AddDate(1, 0, 0)), true
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return at(from.Add(DefaultExpiry)), false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return at(from.Add(DefaultExpiry)), false
	}

	switch m[2][0] {
	case 'h':
		return at(from.Add(time.Duration(n) * time.Hour)), true
	case 'd':
		return at(from.AddDate(0, 0, n)), true
	case 'w':
		return at(from.AddDate(0, 0, 7*n)), true
	case 'm':
		return at(from.AddDate(0, n, 0)), true
	default:
		return at(from.AddDate(n, 0, 0)), true
	}
}

func at(t time.Time) *time.Time {
	return &t
}
