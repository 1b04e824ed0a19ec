// Package cache keeps the last payload received for the current selection
// and its encoded record, and persists both together with the selection.
package cache

import (
	"context"
	"errors"

	"github.com/sw33tLie/togetter/pkg/record"
	"github.com/sw33tLie/togetter/pkg/storage"
	"github.com/sw33tLie/togetter/pkg/togetter"
)

var (
	ErrNoPayload = errors.New("no cached payload")
	ErrNotAList  = errors.New("current selection is not a list")
)

// Persister saves the complete bridge state in one call.
type Persister interface {
	SaveState(ctx context.Context, st storage.State) error
}

// Store is the in-memory bridge state. It is not safe for concurrent use;
// the sync controller owns it.
type Store struct {
	db    Persister
	state storage.State
}

// New wraps state loaded from db.
func New(db Persister, st storage.State) *Store {
	return &Store{db: db, state: st}
}

// Selection returns the current selection.
func (s *Store) Selection() storage.Selection {
	return s.state.Selection
}

// Entry returns the cached entry.
func (s *Store) Entry() storage.CacheEntry {
	return s.state.Cache
}

// Record returns the cached record, if any.
func (s *Store) Record() (record.Record, bool) {
	if s.state.Cache.IsEmpty() {
		return record.Record{}, false
	}
	return s.state.Cache.Record, true
}

// IsStale reports whether raw differs from the cached payload. The
// comparison is plain string equality.
func (s *Store) IsStale(raw string) bool {
	return raw != s.state.Cache.Raw
}

// Commit replaces the cached payload and record and persists them along
// with the selection. The in-memory state is updated even when persisting
// fails.
func (s *Store) Commit(ctx context.Context, sel storage.Selection, raw string, rec record.Record) error {
	s.state.Selection = sel
	s.state.Cache = storage.CacheEntry{Selection: sel, Raw: raw, Record: rec}
	return s.save(ctx)
}

// Clear empties the cache.
func (s *Store) Clear(ctx context.Context) error {
	s.state.Cache = storage.CacheEntry{}
	return s.save(ctx)
}

// Select moves to sel and empties the cache in a single save.
func (s *Store) Select(ctx context.Context, sel storage.Selection) error {
	s.state.Selection = sel
	s.state.Cache = storage.CacheEntry{}
	return s.save(ctx)
}

// ApplyLocalToggle returns the cached list payload with the collected flag
// of item index flipped, and the toggled item. The cache itself is left
// alone until the caller commits the result.
func (s *Store) ApplyLocalToggle(index int) (string, togetter.Item, error) {
	if !s.state.Selection.IsList() {
		return "", togetter.Item{}, ErrNotAList
	}
	c := s.state.Cache
	if c.IsEmpty() || c.Selection != s.state.Selection {
		return "", togetter.Item{}, ErrNoPayload
	}
	return togetter.ToggleCollected(c.Raw, index)
}

func (s *Store) save(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.SaveState(ctx, s.state)
}
