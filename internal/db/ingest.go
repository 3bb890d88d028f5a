package db

import (
	"context"

	"golang.org/x/xerrors"
	"gorm.io/gorm"
)

// AddRequest ingests one parsed event: it stitches the event onto an
// open session for the same visitor fingerprint (or starts a new one)
// and persists the session/request pair in a single transaction.
//
// The per-fingerprint advisory lock is taken before the session lookup
// and held until after the commit, on a connection pinned for the whole
// call. It is the sole mechanism preventing two concurrent requests
// from the same visitor from creating duplicate sessions.
func (s *Store) AddRequest(ctx context.Context, e *ParsedEvent) error {
	if e.Path == "" {
		return validationErrorf("event has no path")
	}
	if e.DateUtc.IsZero() {
		return validationErrorf("event has no timestamp")
	}

	hash := e.Fingerprint()

	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		lock, err := acquireAdvisoryLock(conn, hash, s.opts.LockTimeout)
		if err != nil {
			return err
		}
		// The lock must be gone before the connection returns to the
		// pool, or the next borrower inherits it.
		defer s.releaseLock(lock)

		return conn.Transaction(func(tx *gorm.DB) error {
			session, err := s.findSession(tx, e)
			if err != nil {
				return err
			}

			if session == nil {
				session = newSession(e)
				if err := tx.Create(session).Error; err != nil {
					return xerrors.Errorf("insert session: %w", err)
				}
			} else {
				extendSession(session, e)
				if err := tx.Save(session).Error; err != nil {
					return xerrors.Errorf("update session %d: %w", session.ID, err)
				}
			}

			if err := tx.Create(newRequest(e, session.ID)).Error; err != nil {
				return xerrors.Errorf("insert request: %w", err)
			}
			return nil
		})
	})
}

// findSession returns the most recently ended open session matching the
// event, or nil. A session is open while its end time is within the
// session window of the event; closure is implicit, resolved lazily at
// lookup time. Candidates sharing the hash are re-checked against the
// raw IP/user-agent/language tuple because hash collisions are
// possible.
func (s *Store) findSession(tx *gorm.DB, e *ParsedEvent) (*Session, error) {
	var candidates []Session
	err := tx.
		Where("hash_code = ? AND date_ended_utc > ?", e.Fingerprint(), e.DateUtc.Add(-s.opts.SessionWindow)).
		Order("date_ended_utc DESC").
		Find(&candidates).Error
	if err != nil {
		return nil, xerrors.Errorf("find session: %w", err)
	}

	for i := range candidates {
		if e.matchesSession(&candidates[i]) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}
