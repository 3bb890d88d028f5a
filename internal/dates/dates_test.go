package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-05-15 is a Wednesday.
var now = time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		period string
		from   time.Time
		to     time.Time
	}{
		{"today", date(2024, 5, 15), date(2024, 5, 15)},
		{"last-7-days", date(2024, 5, 9), date(2024, 5, 15)},
		{"last-30-days", date(2024, 4, 16), date(2024, 5, 15)},
		{"last-12-months", date(2023, 5, 16), date(2024, 5, 15)},
		{"month-to-date", date(2024, 5, 1), date(2024, 5, 15)},
		{"last-month", date(2024, 4, 1), date(2024, 4, 30)},
		{"year-to-date", date(2024, 1, 1), date(2024, 5, 15)},
		{"last-year", date(2023, 1, 1), date(2023, 12, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			from, to, err := ParsePeriod(tt.period, now)
			require.NoError(t, err)
			require.NotNil(t, from)
			require.NotNil(t, to)
			assert.Equal(t, tt.from, *from)
			assert.Equal(t, tt.to, *to)
		})
	}
}

func TestParsePeriodAllTime(t *testing.T) {
	for _, period := range []string{"all-time", "", "  "} {
		from, to, err := ParsePeriod(period, now)
		require.NoError(t, err)
		assert.Nil(t, from)
		assert.Nil(t, to)
	}
}

func TestParsePeriodCaseInsensitive(t *testing.T) {
	from, _, err := ParsePeriod("  Last-7-Days ", now)
	require.NoError(t, err)
	require.NotNil(t, from)
	assert.Equal(t, date(2024, 5, 9), *from)
}

func TestParsePeriodCustomRange(t *testing.T) {
	from, to, err := ParsePeriod("20240101-20240131", now)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 1), *from)
	assert.Equal(t, date(2024, 1, 31), *to)
}

func TestParsePeriodCustomRangeInverted(t *testing.T) {
	_, _, err := ParsePeriod("20240131-20240101", now)
	assert.Error(t, err)
}

func TestParsePeriodInvalid(t *testing.T) {
	for _, period := range []string{"last-45-days", "yesterday", "20241301-20241302"} {
		_, _, err := ParsePeriod(period, now)
		assert.Error(t, err, "period %q", period)
	}
}

func TestLastMonthAcrossYearBoundary(t *testing.T) {
	jan := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	from, to, err := ParsePeriod("last-month", jan)
	require.NoError(t, err)
	assert.Equal(t, date(2023, 12, 1), *from)
	assert.Equal(t, date(2023, 12, 31), *to)
}

func TestStartOfWeek(t *testing.T) {
	assert.Equal(t, date(2024, 5, 13), StartOfWeek(date(2024, 5, 15)), "Wednesday aligns to Monday")
	assert.Equal(t, date(2024, 5, 13), StartOfWeek(date(2024, 5, 13)), "Monday is its own week start")
	assert.Equal(t, date(2024, 5, 13), StartOfWeek(date(2024, 5, 19)), "Sunday belongs to the preceding Monday")
}

func TestStartOfMonthAndYear(t *testing.T) {
	assert.Equal(t, date(2024, 5, 1), StartOfMonth(now))
	assert.Equal(t, date(2024, 1, 1), StartOfYear(now))
}

func TestDay(t *testing.T) {
	assert.Equal(t, date(2024, 5, 15), Day(now))

	// Non-UTC times are converted before truncation.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2024, 5, 15, 22, 0, 0, 0, est)
	assert.Equal(t, date(2024, 5, 16), Day(late))
}
