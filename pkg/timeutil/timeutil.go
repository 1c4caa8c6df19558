// Package timeutil provides date and interval helpers for completion-rule
// resolution: parsing declarative interval phrases ("3 days", "2 weeks"),
// parsing literal due dates, and calendar-aware interval arithmetic.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval is a calendar-aware duration: months and days are applied via
// AddDate so "1 month" lands on the same day number, while the Duration
// part handles sub-day precision.
type Interval struct {
	Years    int
	Months   int
	Days     int
	Duration time.Duration
}

// IsZero reports whether the interval adds nothing.
func (iv Interval) IsZero() bool {
	return iv.Years == 0 && iv.Months == 0 && iv.Days == 0 && iv.Duration == 0
}

// AddTo returns t advanced by the interval.
func (iv Interval) AddTo(t time.Time) time.Time {
	return t.AddDate(iv.Years, iv.Months, iv.Days).Add(iv.Duration)
}

// String returns a human-readable representation of the interval.
func (iv Interval) String() string {
	parts := make([]string, 0, 4)
	if iv.Years != 0 {
		parts = append(parts, fmt.Sprintf("%d years", iv.Years))
	}
	if iv.Months != 0 {
		parts = append(parts, fmt.Sprintf("%d months", iv.Months))
	}
	if iv.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d days", iv.Days))
	}
	if iv.Duration != 0 {
		parts = append(parts, iv.Duration.String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

// ParseInterval parses an interval phrase from a completion rule value.
// Accepted forms:
//
//	"3 days", "2 weeks", "1 month", "6 months", "1 year", "12 hours",
//	"90 minutes", and plain Go durations such as "72h".
//
// Units may be singular or plural.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Interval{}, fmt.Errorf("empty interval")
	}

	fields := strings.Fields(s)
	if len(fields) == 1 {
		// Plain Go duration, e.g. "72h".
		d, err := time.ParseDuration(fields[0])
		if err != nil {
			return Interval{}, fmt.Errorf("parse interval %q: %w", s, err)
		}
		return Interval{Duration: d}, nil
	}
	if len(fields)%2 != 0 {
		return Interval{}, fmt.Errorf("parse interval %q: expected <n> <unit> pairs", s)
	}

	var iv Interval
	for i := 0; i < len(fields); i += 2 {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return Interval{}, fmt.Errorf("parse interval %q: bad count %q", s, fields[i])
		}
		unit := strings.TrimSuffix(fields[i+1], "s")
		switch unit {
		case "year":
			iv.Years += n
		case "month":
			iv.Months += n
		case "week":
			iv.Days += n * 7
		case "day":
			iv.Days += n
		case "hour":
			iv.Duration += time.Duration(n) * time.Hour
		case "minute", "min":
			iv.Duration += time.Duration(n) * time.Minute
		default:
			return Interval{}, fmt.Errorf("parse interval %q: unknown unit %q", s, fields[i+1])
		}
	}
	return iv, nil
}

// dateLayouts are the accepted literal due-date formats, most specific
// first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a literal due-date value from a fixed-due-date rule.
// Date-only values resolve to end of day UTC so the full day counts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			return EndOfDay(t), nil
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("parse date %q: unrecognized format", s)
}

// StartOfDay returns the start of the day (00:00:00) in UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in UTC.
func EndOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 999999999, time.UTC)
}

// OrNow returns *t when set, otherwise the current UTC time. Used for
// anchoring rules on enrolments whose start date is unset.
func OrNow(t *time.Time) time.Time {
	if t != nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
