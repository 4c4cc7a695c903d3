package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func bind(db DBTX) Repos {
	return Repos{
		Tasks:         NewTaskRepo(db),
		Logs:          NewLogRepo(db),
		Notifications: NewNotificationRepo(db),
		Preferences:   NewPreferenceRepo(db),
		Users:         NewUserRepo(db),
		Attachments:   NewAttachmentRepo(db),
		Favorites:     NewFavoriteRepo(db),
	}
}

// Repos returns repositories running on the pool, one statement per call.
func (s *PgStore) Repos() Repos {
	return bind(s.pool)
}

func (s *PgStore) InTx(ctx context.Context, fn func(r Repos) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(bind(tx))
	})
}

// Now reads the database clock. Callers use it instead of the host clock so
// that every instance agrees on time.
func (s *PgStore) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := s.pool.QueryRow(ctx, "SELECT clock_timestamp()").Scan(&now)
	return now, err
}

// SyncTime is the watermark handed to polling clients. It never passes the
// start of a transaction that is still open, since such a transaction may
// stamp rows with an earlier time and commit after the caller's reads.
func (s *PgStore) SyncTime(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT LEAST(clock_timestamp(), COALESCE(MIN(xact_start), 'infinity')) - interval '1 microsecond'
		FROM pg_stat_activity
		WHERE datname = current_database()
		  AND backend_type = 'client backend'
		  AND state <> 'idle'
		  AND xact_start IS NOT NULL
		  AND pid <> pg_backend_pid()
	`).Scan(&t)
	return t, err
}
