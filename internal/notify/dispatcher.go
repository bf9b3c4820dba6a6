package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/groupwatch/internal/auditlog"
	"github.com/onnwee/groupwatch/internal/policy"
	"github.com/onnwee/groupwatch/internal/security"
	"github.com/onnwee/groupwatch/internal/tracing"
)

// footerText appears on every embed the service sends.
const footerText = "groupwatch"

// alertBanner is the plain-content line preceding security alert embeds.
const alertBanner = "🚨 **Security alert** — unusual moderation activity detected"

// IncidentMarker is the slice of the incident store the dispatcher
// writes through after a successful alert delivery.
type IncidentMarker interface {
	SetNotified(ctx context.Context, id string) error
}

// Dispatcher resolves webhook targets and per-event toggles, formats
// payloads, and delivers them. Delivery failures are logged and
// surfaced as errors but are never fatal to the triggering operation.
type Dispatcher struct {
	resolver  *policy.Resolver
	client    *WebhookClient
	incidents IncidentMarker
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. incidents may be nil when no
// incident store is wired (alerts are then delivered but not marked).
func NewDispatcher(resolver *policy.Resolver, client *WebhookClient, incidents IncidentMarker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		resolver:  resolver,
		client:    client,
		incidents: incidents,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DispatchAuditEvent delivers a routine notification for one audit
// log entry. The webhook URL resolves explicit > group > global; with
// none configured, or with the entry's event type toggled off, the
// dispatch is a no-op. Returns whether a notification was sent.
func (d *Dispatcher) DispatchAuditEvent(ctx context.Context, entry *auditlog.Entry, explicitWebhook string) (bool, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "dispatch_audit_event")
	sent, err := d.dispatchAuditEvent(ctx, entry, explicitWebhook)
	endSpan(err)
	return sent, err
}

func (d *Dispatcher) dispatchAuditEvent(ctx context.Context, entry *auditlog.Entry, explicitWebhook string) (bool, error) {
	pol, err := d.resolver.ForEvent(ctx, entry.GroupID, entry.EventType)
	if err != nil {
		return false, fmt.Errorf("failed to resolve notification policy: %w", err)
	}

	url := explicitWebhook
	if url == "" {
		url = pol.WebhookURL
	}
	if url == "" {
		d.logger.Debug("no webhook configured, skipping notification",
			slog.String("group_id", entry.GroupID),
			slog.String("event_type", string(entry.EventType)))
		return false, nil
	}
	if !pol.EventEnabled {
		return false, nil
	}

	style := StyleFor(entry.EventType)
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s", style.Emoji, style.Title),
		Description: buildEventDescription(entry),
		Color:       style.Color,
		Timestamp:   entry.CreatedAt.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}

	if err := d.client.Send(ctx, url, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}); err != nil {
		d.logger.Warn("audit event notification failed",
			slog.String("entry_id", entry.ID),
			slog.String("group_id", entry.GroupID),
			slog.String("event_type", string(entry.EventType)),
			slog.String("error", err.Error()))
		return false, err
	}
	return true, nil
}

// DispatchSecurityAlert delivers the alert for a raised incident,
// attaching up to the 10 most recent offending actions as context.
// The sink resolves dedicated-security URL > routine webhook. On
// success the incident is marked DiscordNotified.
func (d *Dispatcher) DispatchSecurityAlert(ctx context.Context, incident *security.Incident, recent []*security.Action, pol policy.EffectivePolicy) (bool, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "dispatch_security_alert")
	sent, err := d.dispatchSecurityAlert(ctx, incident, recent, pol)
	endSpan(err)
	return sent, err
}

func (d *Dispatcher) dispatchSecurityAlert(ctx context.Context, incident *security.Incident, recent []*security.Action, pol policy.EffectivePolicy) (bool, error) {
	url := pol.AlertWebhookURL()
	if url == "" {
		d.logger.Warn("no webhook configured for security alert",
			slog.String("incident_id", incident.ID),
			slog.String("group_id", incident.GroupID))
		return false, nil
	}

	embed := &discordgo.MessageEmbed{
		Title:       alertTitle(incident),
		Description: buildAlertDescription(recent),
		Color:       colorRed,
		Timestamp:   incident.DetectedAt.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Actor", Value: fmt.Sprintf("%s (`%s`)", incident.ActorName, incident.ActorID), Inline: true},
			{Name: "Actions", Value: fmt.Sprintf("%d (threshold %d)", incident.ActionCount, incident.Threshold), Inline: true},
			{Name: "Timeframe", Value: fmt.Sprintf("%d minutes", incident.TimeframeMinutes), Inline: true},
			{Name: "Roles Removed", Value: yesNo(incident.RolesRemoved), Inline: true},
			{Name: "Detected At", Value: fmt.Sprintf("<t:%d:F>", incident.DetectedAt.Unix()), Inline: true},
		},
	}

	if err := d.client.Send(ctx, url, &discordgo.WebhookParams{
		Content: alertBanner,
		Embeds:  []*discordgo.MessageEmbed{embed},
	}); err != nil {
		d.logger.Warn("security alert delivery failed",
			slog.String("incident_id", incident.ID),
			slog.String("group_id", incident.GroupID),
			slog.String("error", err.Error()))
		return false, err
	}

	if d.incidents != nil {
		if err := d.incidents.SetNotified(ctx, incident.ID); err != nil {
			d.logger.Warn("failed to mark incident notified",
				slog.String("incident_id", incident.ID),
				slog.String("error", err.Error()))
		}
	}
	return true, nil
}

// buildEventDescription composes the embed body from actor, target,
// and details.
func buildEventDescription(entry *auditlog.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Actor:** %s", nameOrID(entry.ActorName, entry.ActorID))
	if entry.TargetID != "" || entry.TargetName != "" {
		fmt.Fprintf(&b, "\n**Target:** %s", nameOrID(entry.TargetName, entry.TargetID))
	}
	if entry.Description != "" {
		fmt.Fprintf(&b, "\n%s", entry.Description)
	}
	return b.String()
}

// buildAlertDescription renders the recent offending actions as a
// readable list, newest first.
func buildAlertDescription(recent []*security.Action) string {
	if len(recent) == 0 {
		return "No recent action context available."
	}
	var b strings.Builder
	b.WriteString("Recent actions:")
	for _, a := range recent {
		target := nameOrID(a.TargetName, a.TargetID)
		if target == "" {
			target = "unknown target"
		}
		fmt.Fprintf(&b, "\n• <t:%d:T> — %s", a.OccurredAt.Unix(), target)
	}
	return b.String()
}

func alertTitle(incident *security.Incident) string {
	label := strings.ReplaceAll(incident.Type, "_", " ")
	if len(label) > 0 {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("⛔ %s detected", label)
}

func nameOrID(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
