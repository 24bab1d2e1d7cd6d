package coordkv

import (
	"context"
	"errors"
	"time"
)

// ErrConflict means a transaction lost a race and should be retried
var ErrConflict = errors.New("transaction conflict")

// KeyValue is one row of a range read
type KeyValue struct {
	Key   string
	Value []byte
}

// Transaction buffers writes against a snapshot of the store. Watches are
// armed when the transaction commits.
type Transaction interface {
	// Get returns the value for a key and whether it exists
	Get(key string) ([]byte, bool, error)
	// GetRange returns all rows whose key has the given prefix, in key order
	GetRange(prefix string) ([]KeyValue, error)
	// Set buffers a write
	Set(key string, value []byte)
	// Clear buffers a single-key delete
	Clear(key string)
	// ClearRange buffers deletion of every key with the given prefix
	ClearRange(prefix string)
	// Watch returns a channel closed the next time the key changes after
	// this transaction commits
	Watch(key string) <-chan struct{}
	// Commit applies the buffered writes
	Commit() error
}

// Store opens transactions against the coordination keyspace
type Store interface {
	Transact() Transaction
}

// RunTransaction retries fn until it commits or the context is done.
// fn must call Commit itself; any error from fn other than ErrConflict is
// returned as-is.
func RunTransaction(ctx context.Context, store Store, fn func(tr Transaction) error) error {
	for {
		err := fn(store.Transact())
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
