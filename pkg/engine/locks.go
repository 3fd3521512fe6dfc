package engine

import "sync"

// actionLocks serializes all engine work on one action. Evaluation passes,
// vote-triggered re-evaluation, and bundle execution for the same action id
// never interleave; locks for idle actions are released and reclaimed.
type actionLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newActionLocks() *actionLocks {
	return &actionLocks{locks: make(map[string]*lockEntry)}
}

func (al *actionLocks) lock(actionID string) {
	al.mu.Lock()
	entry, ok := al.locks[actionID]
	if !ok {
		entry = &lockEntry{}
		al.locks[actionID] = entry
	}
	entry.refs++
	al.mu.Unlock()

	entry.mu.Lock()
}

func (al *actionLocks) unlock(actionID string) {
	al.mu.Lock()
	entry, ok := al.locks[actionID]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(al.locks, actionID)
		}
	}
	al.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
