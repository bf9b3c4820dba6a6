package policy

import (
	"context"
	"fmt"

	"github.com/onnwee/groupwatch/internal/auditlog"
)

// Resolver computes EffectivePolicy values from a Provider, applying
// group-over-global precedence once per decision point.
type Resolver struct {
	provider Provider
}

// NewResolver creates a resolver backed by the given provider.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// ForCategory resolves the effective policy for one monitored action
// category in a group: toggles, threshold, timeframe, incident type,
// and webhook URLs.
func (r *Resolver) ForCategory(ctx context.Context, groupID string, category ActionCategory) (EffectivePolicy, error) {
	rule, ok := RuleFor(category)
	if !ok {
		return EffectivePolicy{}, fmt.Errorf("unknown action category %q", category)
	}

	pol, global, group, err := r.base(ctx, groupID)
	if err != nil {
		return EffectivePolicy{}, err
	}

	pol.Category = category
	pol.IncidentType = rule.IncidentType
	pol.CategoryLabel = rule.Label
	pol.CategoryEnabled = true
	pol.Threshold = rule.DefaultThreshold
	pol.TimeframeMinutes = rule.DefaultTimeframe

	applyOverride := func(o CategoryOverride) {
		if o.Enabled != nil {
			pol.CategoryEnabled = *o.Enabled
		}
		if o.Threshold != nil {
			pol.Threshold = *o.Threshold
		}
		if o.TimeframeMinutes != nil {
			pol.TimeframeMinutes = *o.TimeframeMinutes
		}
	}
	if global.Categories != nil {
		if o, ok := global.Categories[category]; ok {
			applyOverride(o)
		}
	}
	if group != nil && group.Categories != nil {
		if o, ok := group.Categories[category]; ok {
			applyOverride(o)
		}
	}

	// threshold 0 disables the category outright
	if pol.Threshold <= 0 {
		pol.CategoryEnabled = false
	}
	return pol, nil
}

// ForEvent resolves the effective policy for one audit event type in a
// group: the per-event notification toggle plus webhook URLs. Event
// types absent from both group and global toggle maps are enabled,
// matching the dispatcher's generic fallback style for unmapped types.
func (r *Resolver) ForEvent(ctx context.Context, groupID string, eventType auditlog.EventType) (EffectivePolicy, error) {
	pol, global, group, err := r.base(ctx, groupID)
	if err != nil {
		return EffectivePolicy{}, err
	}

	pol.EventEnabled = true
	if global.Events != nil {
		if enabled, ok := global.Events[eventType]; ok {
			pol.EventEnabled = enabled
		}
	}
	if group != nil && group.Events != nil {
		if enabled := group.Events[eventType]; enabled != nil {
			pol.EventEnabled = *enabled
		}
	}
	return pol, nil
}

// base loads both policy levels and resolves the shared toggle and
// webhook fields.
func (r *Resolver) base(ctx context.Context, groupID string) (EffectivePolicy, *GlobalPolicy, *GroupPolicy, error) {
	global, err := r.provider.GlobalPolicy(ctx)
	if err != nil {
		return EffectivePolicy{}, nil, nil, fmt.Errorf("failed to load global policy: %w", err)
	}
	group, err := r.provider.GroupPolicy(ctx, groupID)
	if err != nil {
		return EffectivePolicy{}, nil, nil, fmt.Errorf("failed to load group policy: %w", err)
	}

	pol := EffectivePolicy{
		GroupID:            groupID,
		MonitoringEnabled:  global.MonitoringEnabled,
		AutoRemoveRoles:    global.AutoRemoveRoles,
		NotifyDiscord:      global.NotifyDiscord,
		RequireOwner:       global.RequireOwner,
		OwnerUserID:        global.OwnerUserID,
		WebhookURL:         global.WebhookURL,
		SecurityWebhookURL: global.SecurityWebhookURL,
	}

	if group != nil {
		if group.MonitoringEnabled != nil {
			pol.MonitoringEnabled = *group.MonitoringEnabled
		}
		if group.AutoRemoveRoles != nil {
			pol.AutoRemoveRoles = *group.AutoRemoveRoles
		}
		if group.NotifyDiscord != nil {
			pol.NotifyDiscord = *group.NotifyDiscord
		}
		if group.RequireOwner != nil {
			pol.RequireOwner = *group.RequireOwner
		}
		if group.OwnerUserID != "" {
			pol.OwnerUserID = group.OwnerUserID
		}
		if group.WebhookURL != "" {
			pol.WebhookURL = group.WebhookURL
		}
		if group.SecurityWebhookURL != "" {
			pol.SecurityWebhookURL = group.SecurityWebhookURL
		}
	}
	return pol, global, group, nil
}
