package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/xerrors"

	"github.com/xps/palmalytics/internal/dates"
)

// Interval is the chart bucketing unit.
type Interval string

const (
	IntervalDays   Interval = "days"
	IntervalWeeks  Interval = "weeks"
	IntervalMonths Interval = "months"
	IntervalYears  Interval = "years"
)

// ChartProperty selects the metric a chart plots per bucket.
type ChartProperty string

const (
	ChartSessions        ChartProperty = "sessions"
	ChartPageViews       ChartProperty = "pageViews"
	ChartBounceRate      ChartProperty = "bounceRate"
	ChartSessionDuration ChartProperty = "sessionDuration"
	ChartPagesPerSession ChartProperty = "pagesPerSession"
)

// TopData is the headline numbers block. Counts are scaled back up by
// the sampling factor; averages are computed over the sampled rows and
// reported as-is.
type TopData struct {
	TotalSessions          int64   `json:"totalSessions"`
	TotalPageViews         int64   `json:"totalPageViews"`
	AverageBounceRate      int     `json:"averageBounceRate"`
	AverageSessionDuration int     `json:"averageSessionDuration"`
	AveragePagesPerSession float64 `json:"averagePagesPerSession"`
	SamplingFactor         int     `json:"samplingFactor"`
}

// ChartPoint is one time bucket of a chart.
type ChartPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ChartData is a time series over the reporting period, with empty
// buckets filled in as zeros.
type ChartData struct {
	TotalDays      *int         `json:"totalDays"`
	DateFrom       *time.Time   `json:"dateFrom"`
	DateTo         *time.Time   `json:"dateTo"`
	Data           []ChartPoint `json:"data"`
	SamplingFactor int          `json:"samplingFactor"`
}

// TableRow is one ranked row of a breakdown table.
type TableRow struct {
	Label      string  `json:"label"`
	Value      int64   `json:"value"`
	Percentage float64 `json:"percentage"`
}

// TableData is one page of a ranked breakdown table.
type TableData struct {
	TotalRows      int64      `json:"totalRows"`
	PageCount      int        `json:"pageCount"`
	Rows           []TableRow `json:"rows"`
	SamplingFactor int        `json:"samplingFactor"`
}

// GetTopData returns the headline numbers for the date range and
// filters.
func (s *Store) GetTopData(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters) (*TopData, error) {
	if err := validateDates(dateFrom, dateTo); err != nil {
		return nil, err
	}

	estimate, err := s.estimateSessionCount(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	factor := samplingFactor(estimate)

	q := s.sessionQuery().
		Select(fmt.Sprintf("%d * COUNT(1) AS total_sessions", factor)).
		Select(fmt.Sprintf("%d * COALESCE(SUM(request_count), 0) AS total_page_views", factor)).
		Select("ROUND(COALESCE(100.0 * SUM(CASE WHEN is_bounce THEN 1 ELSE 0 END) / (CASE WHEN COUNT(1) > 0 THEN COUNT(1) ELSE 1 END), 0)) AS average_bounce_rate").
		Select("ROUND(COALESCE(AVG(duration), 0)) AS average_session_duration").
		Select("1.0 * COALESCE(SUM(request_count), 0) / (CASE WHEN COUNT(1) > 0 THEN COUNT(1) ELSE 1 END) AS average_pages_per_session").
		WhereDates(dateFrom, dateTo).
		WhereFilters(filters).
		WhereSampling(factor)
	if q.Err() != nil {
		return nil, q.Err()
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var top TopData
	if err := s.db.WithContext(ctx).Raw(q.SQL(), q.Args()...).Scan(&top).Error; err != nil {
		return nil, xerrors.Errorf("top data query: %w", err)
	}
	top.SamplingFactor = factor
	return &top, nil
}

// GetChart returns one metric bucketed by the interval. Buckets with no
// sessions come back as zero values so the series has no calendar gaps.
func (s *Store) GetChart(ctx context.Context, dateFrom, dateTo *time.Time, interval Interval, property ChartProperty, filters *Filters) (*ChartData, error) {
	if err := validateDates(dateFrom, dateTo); err != nil {
		return nil, err
	}

	var valueExpr string
	switch property {
	case ChartSessions:
		valueExpr = "COUNT(1)"
	case ChartPageViews:
		valueExpr = "COALESCE(SUM(request_count), 0)"
	case ChartBounceRate:
		valueExpr = "ROUND(100.0 * SUM(CASE WHEN is_bounce THEN 1 ELSE 0 END) / COUNT(1))"
	case ChartSessionDuration:
		valueExpr = "ROUND(COALESCE(AVG(duration), 0))"
	case ChartPagesPerSession:
		valueExpr = "1.0 * SUM(request_count) / COUNT(1)"
	default:
		return nil, validationErrorf("invalid chart property %q", property)
	}

	var truncUnit string
	switch interval {
	case IntervalDays:
		truncUnit = "day"
	case IntervalWeeks:
		truncUnit = "week"
	case IntervalMonths:
		truncUnit = "month"
	case IntervalYears:
		truncUnit = "year"
	default:
		return nil, validationErrorf("invalid interval %q", interval)
	}
	// AT TIME ZONE pins the calendar boundaries to UTC; date_trunc over a
	// bare timestamptz would truncate in the server's session TimeZone and
	// the buckets would no longer line up with the UTC gap filling.
	groupBy := fmt.Sprintf("date_trunc('%s', date_started_utc AT TIME ZONE 'UTC')", truncUnit)

	estimate, err := s.estimateSessionCount(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	factor := samplingFactor(estimate)

	// Only extensive metrics scale back up; rates and averages are
	// already in their final unit on the sample.
	multiplier := 1
	if property == ChartSessions || property == ChartPageViews {
		multiplier = factor
	}

	q := s.sessionQuery().
		Select(groupBy + " AS date").
		Select(fmt.Sprintf("%d * %s AS value", multiplier, valueExpr)).
		WhereDates(dateFrom, dateTo).
		WhereFilters(filters).
		WhereSampling(factor).
		GroupBy(groupBy)
	if q.Err() != nil {
		return nil, q.Err()
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var points []ChartPoint
	if err := s.db.WithContext(ctx).Raw(q.SQL(), q.Args()...).Scan(&points).Error; err != nil {
		return nil, xerrors.Errorf("chart query: %w", err)
	}

	points, from, to := fillChartGaps(points, dateFrom, dateTo, interval)

	chart := &ChartData{
		DateFrom:       from,
		DateTo:         to,
		Data:           points,
		SamplingFactor: multiplier,
	}
	if from != nil && to != nil {
		days := int(to.Sub(*from).Hours()/24) + 1
		chart.TotalDays = &days
	}
	return chart, nil
}

// fillChartGaps inserts zero-valued points for every calendar bucket of
// the reporting period that the query returned no row for, and sorts
// the series ascending. Open-ended ranges are closed over the observed
// data.
func fillChartGaps(points []ChartPoint, dateFrom, dateTo *time.Time, interval Interval) ([]ChartPoint, *time.Time, *time.Time) {
	from, to := dateFrom, dateTo

	if len(points) > 0 {
		seen := make(map[time.Time]bool, len(points))
		minDate, maxDate := points[0].Date, points[0].Date
		for _, p := range points {
			seen[p.Date.UTC()] = true
			if p.Date.Before(minDate) {
				minDate = p.Date
			}
			if p.Date.After(maxDate) {
				maxDate = p.Date
			}
		}
		if from == nil {
			from = &minDate
		}
		if to == nil {
			to = &maxDate
		}

		start, end := reportingPeriod(*from, *to, interval)
		for date := start; !date.After(end); date = nextBucket(date, interval) {
			if !seen[date] {
				points = append(points, ChartPoint{Date: date})
			}
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, from, to
}

// reportingPeriod aligns the range bounds on the bucket boundaries the
// database groups by, so gap filling and SQL bucketing agree.
func reportingPeriod(from, to time.Time, interval Interval) (time.Time, time.Time) {
	switch interval {
	case IntervalWeeks:
		return dates.StartOfWeek(from), dates.StartOfWeek(to)
	case IntervalMonths:
		return dates.StartOfMonth(from), dates.StartOfMonth(to)
	case IntervalYears:
		return dates.StartOfYear(from), dates.StartOfYear(to)
	default:
		return dates.Day(from), dates.Day(to)
	}
}

func nextBucket(date time.Time, interval Interval) time.Time {
	switch interval {
	case IntervalWeeks:
		return date.AddDate(0, 0, 7)
	case IntervalMonths:
		return date.AddDate(0, 1, 0)
	case IntervalYears:
		return date.AddDate(1, 0, 0)
	default:
		return date.AddDate(0, 0, 1)
	}
}

// GetBrowsers ranks sessions by browser, or by browser version when a
// browser filter narrows the report down to one browser.
func (s *Store) GetBrowsers(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int) (*TableData, error) {
	column := "browser_name"
	if filters != nil && filters.Browser != "" {
		column = "browser_version"
	}
	return s.sessionTableReport(ctx, dateFrom, dateTo, filters, page, column, true)
}

// GetOperatingSystems ranks sessions by OS, drilling into versions when
// an OS filter is set.
func (s *Store) GetOperatingSystems(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int) (*TableData, error) {
	column := "os_name"
	if filters != nil && filters.OS != "" {
		column = "os_version"
	}
	return s.sessionTableReport(ctx, dateFrom, dateTo, filters, page, column, true)
}

// GetReferrers ranks sessions by referrer name, drilling into full
// referrer URLs when a referrer filter is set.
func (s *Store) GetReferrers(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int) (*TableData, error) {
	column := "referrer_name"
	if filters != nil && filters.Referrer != "" {
		column = "referrer"
	}
	return s.sessionTableReport(ctx, dateFrom, dateTo, filters, page, column, true)
}

// GetCountries ranks sessions by geocoded country code.
func (s *Store) GetCountries(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int) (*TableData, error) {
	return s.sessionTableReport(ctx, dateFrom, dateTo, filters, page, "country", true)
}

// GetUtmParameters ranks sessions by one UTM parameter: "source",
// "medium", "campaign", "term" or "content".
func (s *Store) GetUtmParameters(ctx context.Context, dateFrom, dateTo *time.Time, parameter string, filters *Filters, page int) (*TableData, error) {
	switch parameter {
	case "source", "medium", "campaign", "term", "content":
	default:
		return nil, validationErrorf("invalid UTM parameter %q", parameter)
	}
	return s.sessionTableReport(ctx, dateFrom, dateTo, filters, page, "utm_"+parameter, true)
}

// GetEntryPages ranks sessions by the path of their first request.
func (s *Store) GetEntryPages(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int) (*TableData, error) {
	return s.sessionTableReport(ctx, dateFrom, dateTo, filters, page, "entry_path", false)
}

// GetExitPages ranks sessions by the path of their last request.
func (s *Store) GetExitPages(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int) (*TableData, error) {
	return s.sessionTableReport(ctx, dateFrom, dateTo, filters, page, "exit_path", false)
}

// GetTopPages ranks individual page views by path. Unlike the session
// tables this aggregates over requests, so a session contributes once
// per matching page view.
func (s *Store) GetTopPages(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int) (*TableData, error) {
	if err := validateTableArgs(dateFrom, dateTo, page); err != nil {
		return nil, err
	}

	estimate, err := s.estimateRequestCount(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	factor := samplingFactor(estimate)

	where := func(q *requestQuery) *requestQuery {
		return q.WhereDates(dateFrom, dateTo).
			WhereFilters(filters).
			WhereSampling(factor)
	}

	totalQuery := where(s.requestQuery().
		Select("COUNT(DISTINCT r.path) AS total_rows").
		Select(fmt.Sprintf("%d * COUNT(1) AS total", factor)))
	if totalQuery.Err() != nil {
		return nil, totalQuery.Err()
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var totals tableTotals
	if err := s.db.WithContext(ctx).Raw(totalQuery.SQL(), totalQuery.Args()...).Scan(&totals).Error; err != nil {
		return nil, xerrors.Errorf("top pages totals query: %w", err)
	}
	if totals.TotalRows == 0 {
		return &TableData{Rows: []TableRow{}, SamplingFactor: factor}, nil
	}

	q := where(s.requestQuery().
		Select("r.path AS label").
		Select(fmt.Sprintf("%d * COUNT(1) AS value", factor)).
		Select(fmt.Sprintf("100.0 * %d * COUNT(1) / %d AS percentage", factor, totals.Total))).
		GroupBy("r.path").
		OrderBy("COUNT(1) DESC").
		Paging(page, pageSize)
	if q.Err() != nil {
		return nil, q.Err()
	}

	var rows []TableRow
	if err := s.db.WithContext(ctx).Raw(q.SQL(), q.Args()...).Scan(&rows).Error; err != nil {
		return nil, xerrors.Errorf("top pages query: %w", err)
	}

	return &TableData{
		TotalRows:      totals.TotalRows,
		PageCount:      pageCount(totals.TotalRows),
		Rows:           rows,
		SamplingFactor: factor,
	}, nil
}

type tableTotals struct {
	TotalRows int64
	Total     int64
}

// sessionTableReport is the shared shape of the ranked session tables:
// one totals query for the distinct label count and the scaled session
// total, then one page of labels ranked by session count.
func (s *Store) sessionTableReport(ctx context.Context, dateFrom, dateTo *time.Time, filters *Filters, page int, column string, requireNotNull bool) (*TableData, error) {
	if err := validateTableArgs(dateFrom, dateTo, page); err != nil {
		return nil, err
	}

	estimate, err := s.estimateSessionCount(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	factor := samplingFactor(estimate)

	where := func(q *sessionQuery) *sessionQuery {
		q.WhereDates(dateFrom, dateTo).WhereFilters(filters)
		if requireNotNull {
			q.Where(column + " IS NOT NULL")
		}
		return q.WhereSampling(factor)
	}

	totalQuery := where(s.sessionQuery().
		Select(fmt.Sprintf("COUNT(DISTINCT %s) AS total_rows", column)).
		Select(fmt.Sprintf("%d * COUNT(1) AS total", factor)))
	if totalQuery.Err() != nil {
		return nil, totalQuery.Err()
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var totals tableTotals
	if err := s.db.WithContext(ctx).Raw(totalQuery.SQL(), totalQuery.Args()...).Scan(&totals).Error; err != nil {
		return nil, xerrors.Errorf("table totals query: %w", err)
	}
	if totals.TotalRows == 0 {
		return &TableData{Rows: []TableRow{}, SamplingFactor: factor}, nil
	}

	q := where(s.sessionQuery().
		Select(column + " AS label").
		Select(fmt.Sprintf("%d * COUNT(1) AS value", factor)).
		Select(fmt.Sprintf("100.0 * %d * COUNT(1) / %d AS percentage", factor, totals.Total))).
		GroupBy(column).
		OrderBy("COUNT(1) DESC").
		Paging(page, pageSize)
	if q.Err() != nil {
		return nil, q.Err()
	}

	var rows []TableRow
	if err := s.db.WithContext(ctx).Raw(q.SQL(), q.Args()...).Scan(&rows).Error; err != nil {
		return nil, xerrors.Errorf("table query: %w", err)
	}

	return &TableData{
		TotalRows:      totals.TotalRows,
		PageCount:      pageCount(totals.TotalRows),
		Rows:           rows,
		SamplingFactor: factor,
	}, nil
}

func pageCount(totalRows int64) int {
	return int((totalRows + pageSize - 1) / pageSize)
}

func validateDates(dateFrom, dateTo *time.Time) error {
	if dateFrom != nil && dateTo != nil && dateFrom.After(*dateTo) {
		return validationErrorf("'from' cannot be greater than 'to'")
	}
	return nil
}

func validateTableArgs(dateFrom, dateTo *time.Time, page int) error {
	if page < 1 {
		return validationErrorf("page must be 1 or greater, got %d", page)
	}
	return validateDates(dateFrom, dateTo)
}

func (s *Store) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}
