package security

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/groupwatch/internal/policy"
)

// ErrIncidentNotFound is returned when an incident lookup misses.
var ErrIncidentNotFound = errors.New("incident not found")

// ActionStore is the append-only log of monitored moderation actions.
type ActionStore interface {
	// Append records an action.
	Append(ctx context.Context, action *Action) error

	// CountSince counts actions for (group, actor, category) with
	// OccurredAt strictly after the cutoff instant. An action at
	// exactly the cutoff is excluded.
	CountSince(ctx context.Context, groupID, actorID string, category policy.ActionCategory, cutoff time.Time) (int, error)

	// RecentMatching returns up to limit actions for (group, actor,
	// category), newest first.
	RecentMatching(ctx context.Context, groupID, actorID string, category policy.ActionCategory, limit int) ([]*Action, error)
}

// IncidentStore persists raised incidents, keyed by incident ID.
type IncidentStore interface {
	// Create persists a new incident.
	Create(ctx context.Context, incident *Incident) error

	// OpenSince returns an unresolved incident of the given type for
	// (group, actor) detected strictly after the cutoff, or nil.
	// Backs the incident-level dedup guard.
	OpenSince(ctx context.Context, groupID, actorID, incidentType string, cutoff time.Time) (*Incident, error)

	// Get returns the incident with the given ID.
	Get(ctx context.Context, id string) (*Incident, error)

	// SetRolesRemoved records the remediation outcome.
	SetRolesRemoved(ctx context.Context, id string, removed bool, roleIDs []string) error

	// SetNotified marks the incident's alert as delivered.
	SetNotified(ctx context.Context, id string) error

	// AppendDetails appends a note to the incident's Details text.
	AppendDetails(ctx context.Context, id, note string) error
}

// InMemoryActionStore is an in-memory ActionStore for tests and
// development. Thread-safe via RWMutex.
type InMemoryActionStore struct {
	mu      sync.RWMutex
	actions []*Action
	nextID  int64
}

// NewInMemoryActionStore creates an empty in-memory action store.
func NewInMemoryActionStore() *InMemoryActionStore {
	return &InMemoryActionStore{nextID: 1}
}

// Append records an action.
func (s *InMemoryActionStore) Append(_ context.Context, action *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *action
	stored.ID = s.nextID
	s.nextID++
	s.actions = append(s.actions, &stored)
	action.ID = stored.ID
	return nil
}

// CountSince counts matching actions strictly after the cutoff.
func (s *InMemoryActionStore) CountSince(_ context.Context, groupID, actorID string, category policy.ActionCategory, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.actions {
		if a.GroupID == groupID && a.ActorID == actorID && a.Category == category && a.OccurredAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// RecentMatching returns up to limit matching actions, newest first.
func (s *InMemoryActionStore) RecentMatching(_ context.Context, groupID, actorID string, category policy.ActionCategory, limit int) ([]*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Action
	for _, a := range s.actions {
		if a.GroupID == groupID && a.ActorID == actorID && a.Category == category {
			actionCopy := *a
			results = append(results, &actionCopy)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].OccurredAt.After(results[j].OccurredAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Len returns the number of stored actions.
func (s *InMemoryActionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions)
}

// InMemoryIncidentStore is an in-memory IncidentStore for tests and
// development. Thread-safe via RWMutex.
type InMemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
	order     []string
}

// NewInMemoryIncidentStore creates an empty in-memory incident store.
func NewInMemoryIncidentStore() *InMemoryIncidentStore {
	return &InMemoryIncidentStore{incidents: make(map[string]*Incident)}
}

// Create persists a new incident.
func (s *InMemoryIncidentStore) Create(_ context.Context, incident *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *incident
	stored.RemovedRoleIDs = append([]string(nil), incident.RemovedRoleIDs...)
	s.incidents[incident.ID] = &stored
	s.order = append(s.order, incident.ID)
	return nil
}

// OpenSince returns an unresolved same-type incident detected strictly
// after the cutoff, or nil.
func (s *InMemoryIncidentStore) OpenSince(_ context.Context, groupID, actorID, incidentType string, cutoff time.Time) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		inc := s.incidents[s.order[i]]
		if inc.GroupID == groupID && inc.ActorID == actorID &&
			inc.Type == incidentType && !inc.Resolved &&
			inc.DetectedAt.After(cutoff) {
			incCopy := *inc
			return &incCopy, nil
		}
	}
	return nil, nil
}

// Get returns the incident with the given ID.
func (s *InMemoryIncidentStore) Get(_ context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	incCopy := *inc
	incCopy.RemovedRoleIDs = append([]string(nil), inc.RemovedRoleIDs...)
	return &incCopy, nil
}

// SetRolesRemoved records the remediation outcome.
func (s *InMemoryIncidentStore) SetRolesRemoved(_ context.Context, id string, removed bool, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.RolesRemoved = removed
	inc.RemovedRoleIDs = append([]string(nil), roleIDs...)
	return nil
}

// SetNotified marks the incident's alert as delivered.
func (s *InMemoryIncidentStore) SetNotified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.DiscordNotified = true
	return nil
}

// AppendDetails appends a note to the incident's Details text.
func (s *InMemoryIncidentStore) AppendDetails(_ context.Context, id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	if inc.Details == "" {
		inc.Details = note
		return nil
	}
	inc.Details = strings.TrimRight(inc.Details, "\n") + "\n" + note
	return nil
}

// All returns every stored incident in creation order.
func (s *InMemoryIncidentStore) All() []*Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Incident, 0, len(s.order))
	for _, id := range s.order {
		incCopy := *s.incidents[id]
		out = append(out, &incCopy)
	}
	return out
}
