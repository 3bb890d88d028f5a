// Package dates resolves named reporting periods ("last-30-days",
// "year-to-date", ...) into UTC date ranges and aligns dates on
// calendar boundaries for chart bucketing.
package dates

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

var customPeriod = regexp.MustCompile(`^\d{8}-\d{8}$`)

// ParsePeriod returns the inclusive date range for a named period.
// Both dates are nil for "all-time" (and for an empty period, which
// defaults to all-time). A custom range is written "yyyymmdd-yyyymmdd".
func ParsePeriod(period string, now time.Time) (dateFrom, dateTo *time.Time, err error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		period = "all-time"
	}

	if customPeriod.MatchString(period) {
		parts := strings.SplitN(period, "-", 2)
		from, err := time.ParseInLocation("20060102", parts[0], time.UTC)
		if err != nil {
			return nil, nil, xerrors.Errorf("%q is not a valid date", parts[0])
		}
		to, err := time.ParseInLocation("20060102", parts[1], time.UTC)
		if err != nil {
			return nil, nil, xerrors.Errorf("%q is not a valid date", parts[1])
		}
		if from.After(to) {
			return nil, nil, xerrors.New("'from' cannot be greater than 'to'")
		}
		return &from, &to, nil
	}

	today := Day(now.UTC())

	var from, to time.Time
	switch period {
	case "today":
		from, to = today, today
	case "last-7-days":
		from, to = today.AddDate(0, 0, -6), today
	case "last-30-days":
		from, to = today.AddDate(0, 0, -29), today
	case "last-12-months":
		from, to = today.AddDate(-1, 0, 1), today
	case "month-to-date":
		from, to = StartOfMonth(today), today
	case "last-month":
		from = StartOfMonth(today).AddDate(0, -1, 0)
		to = from.AddDate(0, 1, -1)
	case "year-to-date":
		from, to = StartOfYear(today), today
	case "last-year":
		from = StartOfYear(today).AddDate(-1, 0, 0)
		to = from.AddDate(1, 0, -1)
	case "all-time":
		return nil, nil, nil
	default:
		return nil, nil, xerrors.Errorf("unknown period %q", period)
	}

	return &from, &to, nil
}

// Day truncates a time to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek steps back to the Monday of the ISO week containing t.
func StartOfWeek(t time.Time) time.Time {
	t = Day(t)
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// StartOfMonth returns the first day of the month containing t.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfYear returns January 1st of the year containing t.
func StartOfYear(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), 1, 1, 0, 0, 0, 0, time.UTC)
}
