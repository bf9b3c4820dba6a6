package policy

import (
	"context"
	"sync"

	"github.com/onnwee/groupwatch/internal/auditlog"
)

// Provider supplies stored policy values. GroupPolicy returns
// (nil, nil) when no group-level overrides exist.
type Provider interface {
	GroupPolicy(ctx context.Context, groupID string) (*GroupPolicy, error)
	GlobalPolicy(ctx context.Context) (*GlobalPolicy, error)
}

// InMemoryProvider is an in-memory implementation of Provider.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryProvider struct {
	mu     sync.RWMutex
	global GlobalPolicy
	groups map[string]*GroupPolicy
}

// NewInMemoryProvider creates a provider seeded with the given global
// policy.
func NewInMemoryProvider(global GlobalPolicy) *InMemoryProvider {
	return &InMemoryProvider{
		global: global,
		groups: make(map[string]*GroupPolicy),
	}
}

// GroupPolicy returns the stored overrides for a group, or nil.
func (p *InMemoryProvider) GroupPolicy(_ context.Context, groupID string) (*GroupPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	gp, ok := p.groups[groupID]
	if !ok {
		return nil, nil
	}
	cp := cloneGroupPolicy(gp)
	return cp, nil
}

// GlobalPolicy returns the global defaults.
func (p *InMemoryProvider) GlobalPolicy(_ context.Context) (*GlobalPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	g := p.global
	g.Categories = cloneCategoryOverrides(p.global.Categories)
	g.Events = cloneEventToggles(p.global.Events)
	return &g, nil
}

// SetGroupPolicy stores per-group overrides.
func (p *InMemoryProvider) SetGroupPolicy(gp *GroupPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[gp.GroupID] = cloneGroupPolicy(gp)
}

// SetGlobalPolicy replaces the global defaults.
func (p *InMemoryProvider) SetGlobalPolicy(g GlobalPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = g
}

func cloneGroupPolicy(gp *GroupPolicy) *GroupPolicy {
	cp := *gp
	cp.Categories = cloneCategoryOverrides(gp.Categories)
	if gp.Events != nil {
		cp.Events = make(map[auditlog.EventType]*bool, len(gp.Events))
		for k, v := range gp.Events {
			cp.Events[k] = v
		}
	}
	return &cp
}

func cloneCategoryOverrides(m map[ActionCategory]CategoryOverride) map[ActionCategory]CategoryOverride {
	if m == nil {
		return nil
	}
	out := make(map[ActionCategory]CategoryOverride, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneEventToggles(m map[auditlog.EventType]bool) map[auditlog.EventType]bool {
	if m == nil {
		return nil
	}
	out := make(map[auditlog.EventType]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
