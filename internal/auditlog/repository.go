package auditlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an entry lookup misses.
var ErrNotFound = errors.New("audit log entry not found")

// Store defines keyed persistence for audit log entries.
// Insert must be idempotent on Entry.ID.
type Store interface {
	// Insert persists an entry. Returns true if the entry was newly
	// inserted, false if an entry with the same ID already existed
	// (in which case the stored entry is left untouched).
	Insert(ctx context.Context, entry *Entry) (bool, error)

	// ExistingIDs reports which of the given IDs are already stored.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// Recent returns up to limit entries for a group, newest first
	// by CreatedAt (0 = no limit).
	Recent(ctx context.Context, groupID string, limit int) ([]*Entry, error)

	// MarkDiscordSent stamps DiscordSentAt on the entry with the
	// given ID. Returns ErrNotFound if the entry does not exist.
	MarkDiscordSent(ctx context.Context, id string, at time.Time) error
}

// InMemoryStore is an in-memory implementation of Store.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	// Maintain insertion order for queries
	order []string

	now func() time.Time
}

// NewInMemoryStore creates a new in-memory audit log store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*Entry),
		order:   make([]string, 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Insert persists an entry, idempotently by ID.
func (s *InMemoryStore) Insert(_ context.Context, entry *Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; ok {
		return false, nil
	}

	stored := *entry
	if stored.InsertedAt.IsZero() {
		stored.InsertedAt = s.now()
	}
	s.entries[entry.ID] = &stored
	s.order = append(s.order, entry.ID)
	return true, nil
}

// ExistingIDs reports which of the given IDs are already stored.
func (s *InMemoryStore) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

// Recent returns up to limit entries for a group, newest first.
func (s *InMemoryStore) Recent(_ context.Context, groupID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Entry
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.GroupID != groupID {
			continue
		}
		// Return copies to prevent external modification
		entryCopy := *entry
		results = append(results, &entryCopy)
	}

	// Newest first by CreatedAt; insertion order is not guaranteed to
	// match event time when back-fills interleave with live polls.
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// MarkDiscordSent stamps DiscordSentAt on the stored entry.
func (s *InMemoryStore) MarkDiscordSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	sent := at
	entry.DiscordSentAt = &sent
	return nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
