// Package notify resolves webhook targets and per-event toggles, then
// formats and delivers Discord webhook payloads for routine audit
// events and security alerts.
package notify

import (
	"github.com/onnwee/groupwatch/internal/auditlog"
)

// Embed colors, Discord palette.
const (
	colorGreen  = 0x57F287
	colorRed    = 0xED4245
	colorOrange = 0xE67E22
	colorYellow = 0xFEE75C
	colorBlue   = 0x3498DB
	colorPurple = 0x9B59B6
	colorGrey   = 0x95A5A6
)

// Style selects the presentation of one audit event kind.
type Style struct {
	Title string
	Emoji string
	Color int
}

// defaultStyle is used for event types absent from the table.
var defaultStyle = Style{Title: "Notification", Emoji: "🔔", Color: colorGrey}

// eventStyles is the fixed per-event-type presentation table.
var eventStyles = map[auditlog.EventType]Style{
	auditlog.EventMemberJoin:   {Title: "Member Joined", Emoji: "📥", Color: colorGreen},
	auditlog.EventMemberLeave:  {Title: "Member Left", Emoji: "📤", Color: colorGrey},
	auditlog.EventMemberRemove: {Title: "Member Removed", Emoji: "👢", Color: colorOrange},
	auditlog.EventMemberKick:   {Title: "Member Kicked", Emoji: "👢", Color: colorOrange},
	auditlog.EventMemberBan:    {Title: "Member Banned", Emoji: "🔨", Color: colorRed},
	auditlog.EventMemberUnban:  {Title: "Member Unbanned", Emoji: "🔓", Color: colorGreen},

	auditlog.EventRoleAssign:   {Title: "Role Assigned", Emoji: "🏷️", Color: colorBlue},
	auditlog.EventRoleUnassign: {Title: "Role Removed", Emoji: "🏷️", Color: colorOrange},
	auditlog.EventRoleCreate:   {Title: "Role Created", Emoji: "✨", Color: colorBlue},
	auditlog.EventRoleUpdate:   {Title: "Role Updated", Emoji: "🔧", Color: colorBlue},
	auditlog.EventRoleDelete:   {Title: "Role Deleted", Emoji: "🗑️", Color: colorRed},

	auditlog.EventInstanceKick:  {Title: "Instance Kick", Emoji: "👢", Color: colorOrange},
	auditlog.EventInstanceWarn:  {Title: "Instance Warning", Emoji: "⚠️", Color: colorYellow},
	auditlog.EventInstanceBan:   {Title: "Instance Ban", Emoji: "🔨", Color: colorRed},
	auditlog.EventInstanceUnban: {Title: "Instance Unban", Emoji: "🔓", Color: colorGreen},

	auditlog.EventInviteCreate:  {Title: "Invite Sent", Emoji: "✉️", Color: colorBlue},
	auditlog.EventInviteAccept:  {Title: "Invite Accepted", Emoji: "✅", Color: colorGreen},
	auditlog.EventInviteReject:  {Title: "Invite Rejected", Emoji: "❌", Color: colorOrange},
	auditlog.EventRequestCreate: {Title: "Join Request", Emoji: "📨", Color: colorBlue},
	auditlog.EventRequestAccept: {Title: "Join Request Accepted", Emoji: "✅", Color: colorGreen},
	auditlog.EventRequestReject: {Title: "Join Request Rejected", Emoji: "❌", Color: colorOrange},
	auditlog.EventRequestBlock:  {Title: "Join Request Blocked", Emoji: "🚫", Color: colorRed},

	auditlog.EventPostCreate:         {Title: "Post Created", Emoji: "📝", Color: colorBlue},
	auditlog.EventPostDelete:         {Title: "Post Deleted", Emoji: "🗑️", Color: colorOrange},
	auditlog.EventAnnouncementCreate: {Title: "Announcement Posted", Emoji: "📣", Color: colorBlue},
	auditlog.EventAnnouncementDelete: {Title: "Announcement Deleted", Emoji: "🗑️", Color: colorOrange},
	auditlog.EventGalleryPostCreate:  {Title: "Gallery Post Added", Emoji: "🖼️", Color: colorBlue},
	auditlog.EventGalleryPostDelete:  {Title: "Gallery Post Deleted", Emoji: "🗑️", Color: colorOrange},

	auditlog.EventGroupUpdate: {Title: "Group Updated", Emoji: "🔧", Color: colorPurple},
}

// StyleFor returns the presentation style for an event type, falling
// back to the generic style for unmapped types.
func StyleFor(eventType auditlog.EventType) Style {
	if s, ok := eventStyles[eventType]; ok {
		return s
	}
	return defaultStyle
}
