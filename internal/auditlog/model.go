// Package auditlog provides models and persistence for externally-sourced
// group audit log entries ingested by the poller.
package auditlog

import (
	"time"
)

// EventType identifies the kind of audit event, using the dotted names
// the platform API reports (e.g. "group.member.kick").
type EventType string

// Audit event types reported by the platform. The notification toggle
// and style tables in the notify package key off these.
const (
	EventMemberJoin   EventType = "group.member.join"
	EventMemberLeave  EventType = "group.member.leave"
	EventMemberRemove EventType = "group.member.remove"
	EventMemberKick   EventType = "group.member.kick"
	EventMemberBan    EventType = "group.member.ban"
	EventMemberUnban  EventType = "group.member.unban"

	EventRoleAssign   EventType = "group.member.role.assign"
	EventRoleUnassign EventType = "group.member.role.unassign"
	EventRoleCreate   EventType = "group.role.create"
	EventRoleUpdate   EventType = "group.role.update"
	EventRoleDelete   EventType = "group.role.delete"

	EventInstanceKick  EventType = "group.instance.kick"
	EventInstanceWarn  EventType = "group.instance.warn"
	EventInstanceBan   EventType = "group.instance.ban"
	EventInstanceUnban EventType = "group.instance.unban"

	EventInviteCreate  EventType = "group.invite.create"
	EventInviteAccept  EventType = "group.invite.accept"
	EventInviteReject  EventType = "group.invite.reject"
	EventRequestCreate EventType = "group.request.create"
	EventRequestAccept EventType = "group.request.accept"
	EventRequestReject EventType = "group.request.reject"
	EventRequestBlock  EventType = "group.request.block"

	EventPostCreate         EventType = "group.post.create"
	EventPostDelete         EventType = "group.post.delete"
	EventAnnouncementCreate EventType = "group.announcement.create"
	EventAnnouncementDelete EventType = "group.announcement.delete"
	EventGalleryPostCreate  EventType = "group.gallery.post.create"
	EventGalleryPostDelete  EventType = "group.gallery.post.delete"

	EventGroupUpdate EventType = "group.update"
)

// Entry represents a single audit log entry as persisted locally.
// ID is assigned by the platform and is globally unique; insertion is
// idempotent on it. Entries are never mutated after insertion except
// for DiscordSentAt, and never deleted.
type Entry struct {
	ID          string
	GroupID     string
	EventType   EventType
	ActorID     string
	ActorName   string
	TargetID    string
	TargetName  string
	Description string
	CreatedAt   time.Time

	// DiscordSentAt records when the routine notification for this
	// entry was delivered. Nil until then.
	DiscordSentAt *time.Time

	// InsertedAt is when the local store first saw the entry.
	InsertedAt time.Time
}
