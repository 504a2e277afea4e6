package database

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"

	"forex-signal-engine/internal/logging"
)

// lockConn is the slice of *pgxpool.Conn the locker needs: issuing the lock
// statements and handing the connection back to the pool.
type lockConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// AdvisoryLocker serializes work across processes with PostgreSQL advisory
// locks. Lock keys are hashed to the int64 space the lock functions take.
//
// Advisory locks are session-scoped, so the locker checks a connection out of
// the pool and holds it for the whole lock lifetime: taking the lock on one
// pooled connection and unlocking on another would leak the lock on the first
// connection until the pool recycles it.
type AdvisoryLocker struct {
	acquire func(ctx context.Context) (lockConn, error)
}

// NewAdvisoryLocker creates an advisory locker backed by the pool.
func NewAdvisoryLocker(db *DB) *AdvisoryLocker {
	return &AdvisoryLocker{
		acquire: func(ctx context.Context) (lockConn, error) {
			conn, err := db.Pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}

// TryLock attempts to take the session-level advisory lock for the key
// without blocking. The returned release function must be called exactly once
// when acquired is true; it unlocks on the pinned connection and returns it
// to the pool.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	id := lockID(key)

	conn, err := l.acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		defer conn.Release()
		// Unlock survives the caller's context being done.
		var unlocked bool
		err := conn.QueryRow(context.Background(), `SELECT pg_advisory_unlock($1)`, id).Scan(&unlocked)
		if err != nil || !unlocked {
			log := logging.Component("database")
			log.Error().Err(err).Str("key", key).Bool("unlocked", unlocked).
				Msg("releasing advisory lock failed")
		}
	}
	return release, true, nil
}

func lockID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}
