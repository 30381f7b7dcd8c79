package storage

import "sync"

// Overlay buffers writes on top of a base database until they are flushed.
// The node applies every escrow invocation against an overlay and flushes
// only when the invocation succeeds, so a rejected invocation leaves the
// underlying store untouched.
//
// Overlay does not support deletes; the state layer only ever inserts or
// replaces values.
type Overlay struct {
	mu     sync.RWMutex
	base   Database
	writes map[string][]byte
}

// NewOverlay creates a write buffer on top of the provided database.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[string][]byte),
	}
}

// Put records the value in the overlay without touching the base database.
func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Get returns the buffered value when present, falling back to the base.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	value, ok := o.writes[string(key)]
	o.mu.RUnlock()
	if ok {
		return value, nil
	}
	return o.base.Get(key)
}

// Close satisfies the Database interface. The base database stays open; the
// owner of the base is responsible for closing it.
func (o *Overlay) Close() {}

// Flush writes all buffered values to the base database and clears the
// buffer.
func (o *Overlay) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, value := range o.writes {
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	return nil
}

// Discard drops all buffered writes.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
}
