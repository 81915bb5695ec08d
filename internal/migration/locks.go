package migration

import "sync"

// LockTable serializes mutating pipeline operations per session within this
// process. Cross-process safety comes from guarded status transitions in the
// session repository; the table exists to fail fast with Conflict instead of
// letting two operators race on the same session.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockTable creates an empty lock table, shared by every pipeline service
// of one process.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *LockTable) get(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[key] = lock
	}
	return lock
}

// acquire takes the session lock without blocking. The returned release func
// is nil when another operation holds the lock.
func (t *LockTable) acquire(key string) func() {
	lock := t.get(key)
	if !lock.TryLock() {
		return nil
	}
	return lock.Unlock
}
