package db

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"gorm.io/gorm"
)

// schemaLockKey serializes schema creation and migration across
// concurrently-starting instances.
const schemaLockKey int64 = 4721763846328112585

const lockPollInterval = 25 * time.Millisecond

// advisoryLock is an exclusive, store-brokered lock keyed by a 64-bit
// resource id. It is session-scoped: it lives on one connection and is
// gone once that connection closes, so callers must hold the pinned
// connection open until Release.
type advisoryLock struct {
	conn     *gorm.DB
	key      int64
	released bool
}

// acquireAdvisoryLock takes the lock for key on conn, polling until the
// timeout elapses. A zero timeout probes exactly once and fails fast.
func acquireAdvisoryLock(conn *gorm.DB, key int64, timeout time.Duration) (*advisoryLock, error) {
	deadline := time.Now().Add(timeout)

	for {
		var acquired bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&acquired).Error; err != nil {
			return nil, xerrors.Errorf("try advisory lock %d: %w", key, err)
		}
		if acquired {
			return &advisoryLock{conn: conn, key: key}, nil
		}
		if time.Now().Add(lockPollInterval).After(deadline) {
			return nil, xerrors.Errorf("lock %d not acquired within %s: %w", key, timeout, ErrLockUnavailable)
		}
		time.Sleep(lockPollInterval)
	}
}

// releaseLock releases with a logged warning instead of an error return,
// for defers where the release failure must not mask the call's result.
// A lock that fails to unlock stays attached to the pooled connection,
// so a silent failure would stall that visitor's ingestion.
func (s *Store) releaseLock(lock *advisoryLock) {
	if err := lock.Release(); err != nil {
		s.logger.Warn("failed to release advisory lock",
			zap.Int64("key", lock.key), zap.Error(err))
	}
}

// Release unlocks the resource. Safe to call more than once.
func (l *advisoryLock) Release() error {
	if l.released {
		return nil
	}
	l.released = true

	if err := l.conn.Exec("SELECT pg_advisory_unlock(?)", l.key).Error; err != nil {
		return xerrors.Errorf("release advisory lock %d: %w", l.key, err)
	}
	return nil
}
