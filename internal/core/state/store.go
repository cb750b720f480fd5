package state

import (
	"slices"
	"sync/atomic"
)

// Store is the in-memory State Store. A single goroutine (the reconciler)
// owns the mutable records and calls Publish after each change; every other
// goroutine reads the published View, which is never mutated after it is
// stored.
type Store struct {
	records map[string]*Record
	view    atomic.Pointer[View]
}

// NewStore creates a store holding the given records and publishes an
// initial view.
func NewStore(records ...*Record) *Store {
	s := &Store{records: make(map[string]*Record, len(records))}
	for _, r := range records {
		s.records[r.ID] = r
	}
	s.Publish()
	return s
}

// Get returns the mutable record for id. Only the owning goroutine may call it.
func (s *Store) Get(id string) (*Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Publish stores an immutable copy of the current records for readers.
func (s *Store) Publish() {
	v := &View{
		records: make(map[string]Record, len(s.records)),
	}
	for id, r := range s.records {
		v.records[id] = r.Clone()
	}
	s.view.Store(v)
}

// View returns the last published view. Safe for concurrent use.
func (s *Store) View() *View {
	return s.view.Load()
}

// View is a read-only copy of the store.
type View struct {
	records map[string]Record
}

// Get returns the record for id.
func (v *View) Get(id string) (Record, bool) {
	r, ok := v.records[id]
	return r, ok
}

// IDs returns all agent ids in sorted order.
func (v *View) IDs() []string {
	ids := make([]string, 0, len(v.records))
	for id := range v.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of records.
func (v *View) Len() int {
	return len(v.records)
}
