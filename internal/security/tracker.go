package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/groupwatch/internal/policy"
	"github.com/onnwee/groupwatch/internal/tracing"
)

// maxAlertActions caps how many recent offending actions are attached
// to a security alert as context.
const maxAlertActions = 10

// Remediator revokes an offending actor's group roles after an
// incident is raised.
type Remediator interface {
	Remediate(ctx context.Context, incident *Incident, pol policy.EffectivePolicy) error
}

// AlertNotifier delivers a security alert for a raised incident.
type AlertNotifier interface {
	DispatchSecurityAlert(ctx context.Context, incident *Incident, recent []*Action, pol policy.EffectivePolicy) (bool, error)
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// ActionInput carries one monitored moderation event into TrackAction.
type ActionInput struct {
	GroupID    string
	ActorID    string
	ActorName  string
	Category   policy.ActionCategory
	TargetID   string
	TargetName string
	Details    string

	// OccurredAt defaults to the tracker clock when zero.
	OccurredAt time.Time
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Logger for tracker activity.
	Logger *slog.Logger
	// Metrics for centralized background job tracking. Optional.
	Metrics JobMetrics
	// Now overrides the clock. Used by tests for exact window edges.
	Now func() time.Time
}

// Tracker evaluates moderation action rates against per-category
// thresholds and raises deduplicated incidents. Evaluation is
// serialized per (group, actor, category) key so concurrent callers
// cannot race the count-then-insert decision.
type Tracker struct {
	actions   ActionStore
	incidents IncidentStore
	resolver  *policy.Resolver

	remediator Remediator
	notifier   AlertNotifier

	logger  *slog.Logger
	metrics JobMetrics
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker. Remediator and notifier may be nil;
// the corresponding step is then skipped regardless of policy.
func NewTracker(cfg TrackerConfig, actions ActionStore, incidents IncidentStore, resolver *policy.Resolver, remediator Remediator, notifier AlertNotifier) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		actions:    actions,
		incidents:  incidents,
		resolver:   resolver,
		remediator: remediator,
		notifier:   notifier,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// TrackAction records a moderation action and evaluates the actor's
// recent rate for the action's category. Returns true when the action
// was recorded and evaluated, false when monitoring is disabled for it
// or any step failed. Failures are logged, never propagated.
func (t *Tracker) TrackAction(ctx context.Context, in ActionInput) bool {
	start := t.now()
	ctx, endSpan := tracing.StartSpan(ctx, "track_action")
	ok := t.trackAction(ctx, in)
	endSpan(nil)

	if t.metrics != nil {
		status := "success"
		if !ok {
			status = "failure"
		}
		t.metrics.IncJobsTotal("threshold_eval", status)
		t.metrics.ObserveJobDuration("threshold_eval", t.now().Sub(start).Seconds())
	}
	return ok
}

func (t *Tracker) trackAction(ctx context.Context, in ActionInput) bool {
	pol, err := t.resolver.ForCategory(ctx, in.GroupID, in.Category)
	if err != nil {
		t.logError("resolve policy", in, err)
		return false
	}
	if !pol.MonitoringEnabled || !pol.CategoryEnabled {
		return false
	}

	unlock := t.lockKey(in.GroupID, in.ActorID, in.Category)
	defer unlock()

	now := t.now()
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	action := &Action{
		GroupID:    in.GroupID,
		ActorID:    in.ActorID,
		ActorName:  in.ActorName,
		Category:   in.Category,
		TargetID:   in.TargetID,
		TargetName: in.TargetName,
		OccurredAt: occurredAt,
		Details:    in.Details,
	}
	if err := t.actions.Append(ctx, action); err != nil {
		t.logError("append action", in, err)
		return false
	}

	cutoff := now.Add(-time.Duration(pol.TimeframeMinutes) * time.Minute)
	count, err := t.actions.CountSince(ctx, in.GroupID, in.ActorID, in.Category, cutoff)
	if err != nil {
		t.logError("count actions", in, err)
		return false
	}
	if count < pol.Threshold {
		return true
	}

	if err := t.raiseIncident(ctx, in, pol, count, now, cutoff); err != nil {
		t.logError("raise incident", in, err)
		return false
	}
	return true
}

// raiseIncident creates a deduplicated incident and triggers the
// conditional remediation and alert paths.
func (t *Tracker) raiseIncident(ctx context.Context, in ActionInput, pol policy.EffectivePolicy, count int, now, cutoff time.Time) error {
	existing, err := t.incidents.OpenSince(ctx, in.GroupID, in.ActorID, pol.IncidentType, cutoff)
	if err != nil {
		return fmt.Errorf("failed to check for open incident: %w", err)
	}
	if existing != nil {
		t.logger.Debug("suppressing duplicate incident",
			slog.String("group_id", in.GroupID),
			slog.String("actor_id", in.ActorID),
			slog.String("incident_type", pol.IncidentType),
			slog.String("existing_id", existing.ID))
		return nil
	}

	incident := &Incident{
		ID:               uuid.New().String(),
		GroupID:          in.GroupID,
		ActorID:          in.ActorID,
		ActorName:        in.ActorName,
		Type:             pol.IncidentType,
		ActionCount:      count,
		TimeframeMinutes: pol.TimeframeMinutes,
		Threshold:        pol.Threshold,
		DetectedAt:       now,
	}
	incident.Details = incident.Summary()

	if err := t.incidents.Create(ctx, incident); err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	t.logger.Warn("security incident raised",
		slog.String("incident_id", incident.ID),
		slog.String("group_id", incident.GroupID),
		slog.String("actor_id", incident.ActorID),
		slog.String("incident_type", incident.Type),
		slog.Int("action_count", incident.ActionCount),
		slog.Int("threshold", incident.Threshold))

	recent, err := t.actions.RecentMatching(ctx, in.GroupID, in.ActorID, in.Category, maxAlertActions)
	if err != nil {
		t.logger.Warn("failed to load recent actions for alert context",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()))
		recent = nil
	}

	if pol.AutoRemoveRoles && t.remediator != nil {
		if err := t.remediator.Remediate(ctx, incident, pol); err != nil {
			t.logger.Error("remediation failed",
				slog.String("incident_id", incident.ID),
				slog.String("error", err.Error()))
			if t.metrics != nil {
				t.metrics.IncJobErrors("remediation", "execute")
			}
		}
		// Refresh so the alert reflects the remediation outcome.
		if updated, err := t.incidents.Get(ctx, incident.ID); err == nil {
			incident = updated
		}
	}

	if pol.NotifyDiscord && t.notifier != nil {
		if _, err := t.notifier.DispatchSecurityAlert(ctx, incident, recent, pol); err != nil {
			t.logger.Error("security alert dispatch failed",
				slog.String("incident_id", incident.ID),
				slog.String("error", err.Error()))
			if t.metrics != nil {
				t.metrics.IncJobErrors("notification_dispatch", "security_alert")
			}
		}
	}
	return nil
}

// lockKey acquires the per-(group, actor, category) evaluation lock
// and returns its release function.
func (t *Tracker) lockKey(groupID, actorID string, category policy.ActionCategory) func() {
	key := groupID + "|" + actorID + "|" + string(category)

	t.mu.Lock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[key] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (t *Tracker) logError(step string, in ActionInput, err error) {
	t.logger.Error("action tracking failed",
		slog.String("step", step),
		slog.String("group_id", in.GroupID),
		slog.String("actor_id", in.ActorID),
		slog.String("category", string(in.Category)),
		slog.String("error", err.Error()))
	if t.metrics != nil {
		t.metrics.IncJobErrors("threshold_eval", step)
	}
}
