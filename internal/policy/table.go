// Package policy resolves effective monitoring configuration with
// group-over-global precedence. Thresholds, timeframes, and event
// toggles are declared in lookup tables rather than scattered
// conditionals so they can be tested and extended in one place.
package policy

import (
	"github.com/onnwee/groupwatch/internal/auditlog"
)

// ActionCategory identifies a monitored moderation action category.
type ActionCategory string

// Monitored action categories.
const (
	CategoryInstanceKick       ActionCategory = "instance_kick"
	CategoryGroupKick          ActionCategory = "group_kick"
	CategoryInstanceBan        ActionCategory = "instance_ban"
	CategoryGroupBan           ActionCategory = "group_ban"
	CategoryRoleRemoval        ActionCategory = "role_removal"
	CategoryInviteRejection    ActionCategory = "invite_rejection"
	CategoryPostDeletion       ActionCategory = "post_deletion"
	CategoryAnnouncementDelete ActionCategory = "announcement_deletion"
	CategoryGalleryDeletion    ActionCategory = "gallery_deletion"
)

// CategoryRule declares the default detection parameters for one
// monitored action category. A threshold of 0 disables detection for
// the category.
type CategoryRule struct {
	Category         ActionCategory
	IncidentType     string
	Label            string
	DefaultThreshold int
	DefaultTimeframe int // minutes

	// EventTypes are the audit log event types that count toward
	// this category when ingested entries feed the tracker.
	EventTypes []auditlog.EventType
}

// categoryRules is the fixed category table. Order is not significant.
var categoryRules = []CategoryRule{
	{
		Category:         CategoryInstanceKick,
		IncidentType:     "mass_instance_kick",
		Label:            "Instance Kick",
		DefaultThreshold: 5,
		DefaultTimeframe: 10,
		EventTypes:       []auditlog.EventType{auditlog.EventInstanceKick},
	},
	{
		Category:         CategoryGroupKick,
		IncidentType:     "mass_group_kick",
		Label:            "Group Kick",
		DefaultThreshold: 5,
		DefaultTimeframe: 10,
		EventTypes:       []auditlog.EventType{auditlog.EventMemberKick, auditlog.EventMemberRemove},
	},
	{
		Category:         CategoryInstanceBan,
		IncidentType:     "mass_instance_ban",
		Label:            "Instance Ban",
		DefaultThreshold: 3,
		DefaultTimeframe: 10,
		EventTypes:       []auditlog.EventType{auditlog.EventInstanceBan},
	},
	{
		Category:         CategoryGroupBan,
		IncidentType:     "mass_group_ban",
		Label:            "Group Ban",
		DefaultThreshold: 3,
		DefaultTimeframe: 10,
		EventTypes:       []auditlog.EventType{auditlog.EventMemberBan},
	},
	{
		Category:         CategoryRoleRemoval,
		IncidentType:     "mass_role_removal",
		Label:            "Role Removal",
		DefaultThreshold: 3,
		DefaultTimeframe: 10,
		EventTypes:       []auditlog.EventType{auditlog.EventRoleUnassign},
	},
	{
		Category:         CategoryInviteRejection,
		IncidentType:     "mass_invite_rejection",
		Label:            "Invite Rejection",
		DefaultThreshold: 10,
		DefaultTimeframe: 15,
		EventTypes:       []auditlog.EventType{auditlog.EventInviteReject, auditlog.EventRequestReject},
	},
	{
		Category:         CategoryPostDeletion,
		IncidentType:     "mass_post_deletion",
		Label:            "Post Deletion",
		DefaultThreshold: 3,
		DefaultTimeframe: 15,
		EventTypes:       []auditlog.EventType{auditlog.EventPostDelete},
	},
	{
		Category:         CategoryAnnouncementDelete,
		IncidentType:     "mass_announcement_deletion",
		Label:            "Announcement Deletion",
		DefaultThreshold: 3,
		DefaultTimeframe: 15,
		EventTypes:       []auditlog.EventType{auditlog.EventAnnouncementDelete},
	},
	{
		Category:         CategoryGalleryDeletion,
		IncidentType:     "mass_gallery_deletion",
		Label:            "Gallery Deletion",
		DefaultThreshold: 3,
		DefaultTimeframe: 15,
		EventTypes:       []auditlog.EventType{auditlog.EventGalleryPostDelete},
	},
}

// rulesByCategory and categoryByEvent are derived lookup indexes.
var (
	rulesByCategory = func() map[ActionCategory]CategoryRule {
		m := make(map[ActionCategory]CategoryRule, len(categoryRules))
		for _, r := range categoryRules {
			m[r.Category] = r
		}
		return m
	}()

	categoryByEvent = func() map[auditlog.EventType]ActionCategory {
		m := make(map[auditlog.EventType]ActionCategory)
		for _, r := range categoryRules {
			for _, ev := range r.EventTypes {
				m[ev] = r.Category
			}
		}
		return m
	}()
)

// RuleFor returns the category rule for a monitored action category.
func RuleFor(category ActionCategory) (CategoryRule, bool) {
	r, ok := rulesByCategory[category]
	return r, ok
}

// CategoryForEvent maps an audit event type to the monitored category
// it counts toward, if any.
func CategoryForEvent(eventType auditlog.EventType) (ActionCategory, bool) {
	c, ok := categoryByEvent[eventType]
	return c, ok
}

// Categories returns all monitored action categories.
func Categories() []ActionCategory {
	cats := make([]ActionCategory, 0, len(categoryRules))
	for _, r := range categoryRules {
		cats = append(cats, r.Category)
	}
	return cats
}
