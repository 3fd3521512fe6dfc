package domain

import "sync"

// DataStore is the scratch key/value state attached to actions and policies.
// Hooks read it through their input document and mutate it by returning
// patches; values must stay JSON-marshalable so they can cross the hook
// boundary intact. The zero value is ready to use.
type DataStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewDataStore returns an empty scratch store.
func NewDataStore() *DataStore {
	return &DataStore{values: make(map[string]any)}
}

// Get returns the value stored under key and whether it was present.
func (d *DataStore) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (d *DataStore) Set(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	d.values[key] = value
}

// Remove deletes key and reports whether it existed.
func (d *DataStore) Remove(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.values[key]
	if ok {
		delete(d.values, key)
	}
	return ok
}

// Len returns the number of stored keys.
func (d *DataStore) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.values)
}

// Snapshot returns a shallow copy of the stored values, safe to hand to a
// hook input document.
func (d *DataStore) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Apply merges a patch returned by a hook. A nil value removes the key,
// anything else replaces it.
func (d *DataStore) Apply(patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	for k, v := range patch {
		if v == nil {
			delete(d.values, k)
			continue
		}
		d.values[k] = v
	}
}
