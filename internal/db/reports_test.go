package db

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFillChartGapsDays(t *testing.T) {
	points := []ChartPoint{
		{Date: day(2024, 5, 1), Value: 3},
		{Date: day(2024, 5, 4), Value: 1},
	}

	filled, from, to := fillChartGaps(points, nil, nil, IntervalDays)

	require.NotNil(t, from)
	require.NotNil(t, to)
	assert.Equal(t, day(2024, 5, 1), *from)
	assert.Equal(t, day(2024, 5, 4), *to)

	require.Len(t, filled, 4)
	assert.Equal(t, day(2024, 5, 1), filled[0].Date)
	assert.Equal(t, 3.0, filled[0].Value)
	assert.Equal(t, 0.0, filled[1].Value)
	assert.Equal(t, 0.0, filled[2].Value)
	assert.Equal(t, day(2024, 5, 4), filled[3].Date)
}

func TestFillChartGapsExplicitRange(t *testing.T) {
	from, to := day(2024, 5, 1), day(2024, 5, 7)
	points := []ChartPoint{{Date: day(2024, 5, 3), Value: 2}}

	filled, gotFrom, gotTo := fillChartGaps(points, &from, &to, IntervalDays)

	assert.Equal(t, from, *gotFrom)
	assert.Equal(t, to, *gotTo)
	require.Len(t, filled, 7)
	for i, p := range filled {
		assert.Equal(t, from.AddDate(0, 0, i), p.Date)
	}
}

func TestFillChartGapsWeeks(t *testing.T) {
	// Two ISO weeks apart: one empty week between them.
	points := []ChartPoint{
		{Date: day(2024, 5, 6), Value: 5},
		{Date: day(2024, 5, 20), Value: 7},
	}

	filled, _, _ := fillChartGaps(points, nil, nil, IntervalWeeks)

	require.Len(t, filled, 3)
	assert.Equal(t, day(2024, 5, 13), filled[1].Date)
	assert.Equal(t, 0.0, filled[1].Value)
}

func TestFillChartGapsMonths(t *testing.T) {
	points := []ChartPoint{
		{Date: day(2024, 1, 1), Value: 1},
		{Date: day(2024, 4, 1), Value: 1},
	}

	filled, _, _ := fillChartGaps(points, nil, nil, IntervalMonths)

	require.Len(t, filled, 4)
	assert.Equal(t, day(2024, 2, 1), filled[1].Date)
	assert.Equal(t, day(2024, 3, 1), filled[2].Date)
}

func TestFillChartGapsYears(t *testing.T) {
	points := []ChartPoint{
		{Date: day(2022, 1, 1), Value: 1},
		{Date: day(2024, 1, 1), Value: 1},
	}

	filled, _, _ := fillChartGaps(points, nil, nil, IntervalYears)

	require.Len(t, filled, 3)
	assert.Equal(t, day(2023, 1, 1), filled[1].Date)
}

func TestFillChartGapsEmpty(t *testing.T) {
	filled, from, to := fillChartGaps(nil, nil, nil, IntervalDays)
	assert.Empty(t, filled)
	assert.Nil(t, from)
	assert.Nil(t, to)
}

func TestReportingPeriod(t *testing.T) {
	// 2024-05-15 is a Wednesday.
	from, to := day(2024, 5, 15), day(2024, 5, 29)

	start, end := reportingPeriod(from, to, IntervalWeeks)
	assert.Equal(t, day(2024, 5, 13), start)
	assert.Equal(t, day(2024, 5, 27), end)

	start, end = reportingPeriod(from, to, IntervalMonths)
	assert.Equal(t, day(2024, 5, 1), start)
	assert.Equal(t, day(2024, 5, 1), end)

	start, end = reportingPeriod(from, to, IntervalYears)
	assert.Equal(t, day(2024, 1, 1), start)
	assert.Equal(t, day(2024, 1, 1), end)

	start, end = reportingPeriod(from, to, IntervalDays)
	assert.Equal(t, from, start)
	assert.Equal(t, to, end)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, pageCount(0))
	assert.Equal(t, 1, pageCount(1))
	assert.Equal(t, 1, pageCount(10))
	assert.Equal(t, 2, pageCount(11))
	assert.Equal(t, 5, pageCount(50))
}

func TestValidateDates(t *testing.T) {
	from, to := day(2024, 5, 10), day(2024, 5, 1)

	err := validateDates(&from, &to)
	require.Error(t, err)

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	assert.NoError(t, validateDates(&to, &from))
	assert.NoError(t, validateDates(nil, nil))
	assert.NoError(t, validateDates(&from, nil))
}

func TestValidateTableArgs(t *testing.T) {
	err := validateTableArgs(nil, nil, 0)
	require.Error(t, err)

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	assert.NoError(t, validateTableArgs(nil, nil, 1))
}
