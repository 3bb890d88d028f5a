package db

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

// samplingFactor picks the multiplier for an estimated row count. The
// thresholds are exact ratios of maxRows: above maxRows reports read the
// 1-in-1000 bucket, above maxRows/10 the 1-in-100 bucket, and so on.
func samplingFactor(rowCount int64) int {
	switch {
	case rowCount > maxRows:
		return 1000
	case rowCount > maxRows/10:
		return 100
	case rowCount > maxRows/100:
		return 10
	default:
		return 1
	}
}

// estimateSessionCount estimates how many sessions fall in the date
// range by counting the deterministic 1-in-1000 bucket and multiplying
// up, avoiding a full scan. Estimates are cached per date range for a
// bounded time in a bounded LRU.
func (s *Store) estimateSessionCount(dateFrom, dateTo *time.Time) (int64, error) {
	return s.cachedEstimate("sessions", dateFrom, dateTo, func() (int64, error) {
		q := s.sessionQuery().
			Select("1000 * COUNT(1)").
			WhereDates(dateFrom, dateTo).
			WhereSampling(1000)
		return s.queryCount(q.SQL(), q.Args())
	})
}

// estimateRequestCount is the request-level counterpart, used by
// reports that aggregate over requests rather than sessions.
func (s *Store) estimateRequestCount(dateFrom, dateTo *time.Time) (int64, error) {
	return s.cachedEstimate("requests", dateFrom, dateTo, func() (int64, error) {
		q := s.requestQuery().
			Select("1000 * COUNT(1)").
			WhereDates(dateFrom, dateTo).
			WhereSampling(1000)
		return s.queryCount(q.SQL(), q.Args())
	})
}

func (s *Store) cachedEstimate(kind string, dateFrom, dateTo *time.Time, compute func() (int64, error)) (int64, error) {
	key := fmt.Sprintf("%s_%s_%s", kind, dateKey(dateFrom), dateKey(dateTo))
	if n, ok := s.rowCountCache.Get(key); ok {
		return n, nil
	}

	n, err := compute()
	if err != nil {
		return 0, err
	}
	s.rowCountCache.Add(key, n)
	return n, nil
}

func (s *Store) queryCount(sql string, args []any) (int64, error) {
	var n int64
	if err := s.db.Raw(sql, args...).Scan(&n).Error; err != nil {
		return 0, xerrors.Errorf("estimate row count: %w", err)
	}
	return n, nil
}

func dateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("20060102")
}
