package policy

import (
	"github.com/onnwee/groupwatch/internal/auditlog"
)

// CategoryOverride carries per-category setting overrides. Nil fields
// inherit from the next level down (group inherits global, global
// inherits the category table defaults).
type CategoryOverride struct {
	Enabled          *bool `json:"enabled,omitempty"`
	Threshold        *int  `json:"threshold,omitempty"`
	TimeframeMinutes *int  `json:"timeframe_minutes,omitempty"`
}

// GroupPolicy holds per-group setting overrides. All pointer fields
// inherit the global value when nil; empty strings inherit too.
type GroupPolicy struct {
	GroupID string

	MonitoringEnabled *bool
	AutoRemoveRoles   *bool
	NotifyDiscord     *bool
	RequireOwner      *bool
	OwnerUserID       string

	WebhookURL         string
	SecurityWebhookURL string

	Categories map[ActionCategory]CategoryOverride
	Events     map[auditlog.EventType]*bool
}

// GlobalPolicy holds the service-wide defaults every group inherits.
type GlobalPolicy struct {
	MonitoringEnabled bool
	AutoRemoveRoles   bool
	NotifyDiscord     bool
	RequireOwner      bool
	OwnerUserID       string

	WebhookURL         string
	SecurityWebhookURL string

	Categories map[ActionCategory]CategoryOverride
	Events     map[auditlog.EventType]bool
}

// EffectivePolicy is the resolved configuration for one decision
// point, computed once with group-over-global precedence applied.
// It is derived, never persisted.
type EffectivePolicy struct {
	GroupID string

	MonitoringEnabled bool
	AutoRemoveRoles   bool
	NotifyDiscord     bool
	RequireOwner      bool
	OwnerUserID       string

	// WebhookURL is the routine-notification sink (group over global).
	WebhookURL string
	// SecurityWebhookURL is the dedicated alert sink. Empty when
	// neither group nor global configures one; alerts then fall back
	// to WebhookURL.
	SecurityWebhookURL string

	// Category detection parameters, populated by ForCategory.
	Category         ActionCategory
	CategoryEnabled  bool
	Threshold        int
	TimeframeMinutes int
	IncidentType     string
	CategoryLabel    string

	// EventEnabled is the per-event-type toggle, populated by ForEvent.
	EventEnabled bool
}

// AlertWebhookURL returns the sink for security alerts: the dedicated
// security URL when configured, otherwise the routine webhook.
func (p EffectivePolicy) AlertWebhookURL() string {
	if p.SecurityWebhookURL != "" {
		return p.SecurityWebhookURL
	}
	return p.WebhookURL
}
