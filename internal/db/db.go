package db

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/xps/palmalytics/internal/config"
)

const (
	pageSize = 10
	maxRows  = 1_000_000

	rowCountCacheSize     = 100
	rowCountCacheDuration = 5 * time.Minute
	geocodingCacheSize    = 500

	currentSchemaVersion = 1
)

// Connect opens a GORM database connection using APP_DATABASE_URL
// (PostgreSQL URL). Table names are prefixed so the analytics schema
// can live inside the host application's database.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, xerrors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, xerrors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing
	// simple protocol for "SELECT * FROM table LIMIT 1", which would
	// otherwise trigger "insufficient arguments".
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cfg.TablePrefix,
		},
	})
	if err != nil {
		return nil, xerrors.Errorf("open database: %w", err)
	}

	return db, nil
}

// Options carries the store's tunables out of config.
type Options struct {
	SessionWindow time.Duration
	LockTimeout   time.Duration
	QueryTimeout  time.Duration

	// Logger receives store-internal warnings that have no error path
	// back to the caller, such as a failed advisory-lock release.
	Logger *zap.Logger
}

// Store is the persistent backing for ingestion and reporting. The two
// subsystems share its schema and invariants (fingerprint, date ranges,
// truncation limits).
type Store struct {
	db     *gorm.DB
	opts   Options
	logger *zap.Logger

	// prefixed table names, resolved once so raw report SQL matches
	// whatever TablePrefix the host configured
	sessionsTable string
	requestsTable string

	rowCountCache  *expirable.LRU[string, int64]
	geocodingCache *lru.Cache[string, string]
}

// NewStore wraps an open connection. Cache capacities are fixed so
// unbounded distinct date ranges or visitor IPs cannot grow memory
// without limit.
func NewStore(gdb *gorm.DB, opts Options) *Store {
	if opts.SessionWindow <= 0 {
		opts.SessionWindow = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	geocodingCache, _ := lru.New[string, string](geocodingCacheSize)

	return &Store{
		db:             gdb,
		opts:           opts,
		logger:         opts.Logger,
		sessionsTable:  tableName(gdb, &Session{}),
		requestsTable:  tableName(gdb, &Request{}),
		rowCountCache:  expirable.NewLRU[string, int64](rowCountCacheSize, nil, rowCountCacheDuration),
		geocodingCache: geocodingCache,
	}
}

func tableName(gdb *gorm.DB, model any) string {
	stmt := &gorm.Statement{DB: gdb}
	if err := stmt.Parse(model); err != nil {
		panic(err)
	}
	return stmt.Table
}

// Migrate creates or updates the schema. The fixed-name advisory lock
// serializes concurrently-starting instances so only one runs the
// migration.
func (s *Store) Migrate() error {
	return s.db.Connection(func(conn *gorm.DB) error {
		lock, err := acquireAdvisoryLock(conn, schemaLockKey, time.Minute)
		if err != nil {
			return xerrors.Errorf("acquire schema lock: %w", err)
		}
		defer s.releaseLock(lock)

		if err := conn.AutoMigrate(&Session{}, &Request{}, &GeolocRange{}, &Setting{}); err != nil {
			return xerrors.Errorf("migrate schema: %w", err)
		}

		return saveSetting(conn, settingSchemaVersion, currentSchemaVersion)
	})
}

// RequestCount returns the total number of stored requests.
func (s *Store) RequestCount() (int64, error) {
	var n int64
	err := s.db.Model(&Request{}).Count(&n).Error
	return n, err
}

// SessionCount returns the total number of stored sessions.
func (s *Store) SessionCount() (int64, error) {
	var n int64
	err := s.db.Model(&Session{}).Count(&n).Error
	return n, err
}

// LastRequests returns the most recent requests, newest first.
func (s *Store) LastRequests(count int) ([]Request, error) {
	var rows []Request
	err := s.db.Order("id DESC").Limit(count).Find(&rows).Error
	return rows, err
}

// LastSessions returns the most recent sessions, newest first.
func (s *Store) LastSessions(count int) ([]Session, error) {
	var rows []Session
	err := s.db.Order("id DESC").Limit(count).Find(&rows).Error
	return rows, err
}
