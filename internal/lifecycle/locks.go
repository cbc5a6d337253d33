package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLockHeld is returned when a backup is already running against the same
// database chain.
var ErrLockHeld = errors.New("backup already running for database")

// lockTable hands out per-database advisory locks. Only one backup operation
// may hold a database's lock at a time, from Begin until the record is
// terminal; cross-database operations run in parallel.
type lockTable struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]bool)}
}

// TryAcquire takes the database's lock or fails fast with ErrLockHeld.
// Contention never queues silently: the caller decides whether to retry.
func (t *lockTable) TryAcquire(database string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[database] {
		return fmt.Errorf("%w: %s", ErrLockHeld, database)
	}
	t.held[database] = true
	return nil
}

// Release frees the database's lock.
func (t *lockTable) Release(database string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, database)
}
