package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"apikit/internal/store"
)

const badgerConflictRetries = 5

// BadgerLimiter keeps fixed-window counters in an embedded Badger database.
// Counters survive restarts when a directory is given and expire with the
// window through Badger's TTL support.
type BadgerLimiter struct {
	db     *badger.DB
	prefix string
}

// OpenBadgerLimiter opens (or creates) the counter database at dir. An empty
// dir keeps the database in memory.
func OpenBadgerLimiter(dir string) (*BadgerLimiter, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger limiter: %w", err)
	}
	return &BadgerLimiter{db: db, prefix: "limit:"}, nil
}

func (l *BadgerLimiter) Allow(_ context.Context, _ store.Source, key LimitKey, limit int, window time.Duration) (Decision, error) {
	if window < time.Second {
		window = time.Second
	}
	dbKey := []byte(l.prefix + key.String())
	var (
		hits      int64
		expiresAt time.Time
		err       error
	)
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		err = l.db.Update(func(txn *badger.Txn) error {
			hits, expiresAt = 0, time.Time{}
			item, err := txn.Get(dbKey)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				raw, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				hits, _ = strconv.ParseInt(string(raw), 10, 64)
				if item.ExpiresAt() > 0 {
					expiresAt = time.Unix(int64(item.ExpiresAt()), 0)
				}
			}
			now := time.Now()
			if hits == 0 || expiresAt.IsZero() || !now.Before(expiresAt) {
				hits = 0
				expiresAt = now.Add(window)
			}
			hits++
			entry := badger.NewEntry(dbKey, []byte(strconv.FormatInt(hits, 10)))
			entry.ExpiresAt = uint64(expiresAt.Unix())
			return txn.SetEntry(entry)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return Decision{}, err
	}
	return decide(limit, hits, time.Until(expiresAt)), nil
}

// Close flushes and closes the database.
func (l *BadgerLimiter) Close() error {
	return l.db.Close()
}

var _ Limiter = (*BadgerLimiter)(nil)
