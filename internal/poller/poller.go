// Package poller drives periodic ingestion of a group's audit log:
// fetch, deduplicate against the store, persist, and hand truly new
// entries to the notification and threshold-tracking paths.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/groupwatch/internal/auditlog"
	"github.com/onnwee/groupwatch/internal/policy"
	"github.com/onnwee/groupwatch/internal/security"
	"github.com/onnwee/groupwatch/internal/tracing"
)

// DefaultInterval is the default spacing between polls of a group.
const DefaultInterval = 60 * time.Second

// DefaultPageSize is the default audit log page size.
const DefaultPageSize = 100

// maxNotificationsPerPoll caps routine notification dispatches per
// poll cycle.
const maxNotificationsPerPoll = 10

// ErrPollInFlight is returned when a poll is requested while another
// poll for the same consumer is still running. Polls are serialized so
// overlapping "truly new" computations cannot double-dispatch.
var ErrPollInFlight = errors.New("poll already in flight")

// Source fetches pages of a group's audit log, newest first.
type Source interface {
	AuditLog(ctx context.Context, groupID string, offset, n int) ([]*auditlog.Entry, error)
}

// Notifier delivers routine notifications for new entries.
type Notifier interface {
	DispatchAuditEvent(ctx context.Context, entry *auditlog.Entry, explicitWebhook string) (bool, error)
}

// ActionSink receives monitored moderation actions derived from newly
// ingested entries.
type ActionSink interface {
	TrackAction(ctx context.Context, in security.ActionInput) bool
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// SnapshotFunc receives the persisted entries for a group when polling
// starts, before the first poll.
type SnapshotFunc func(entries []*auditlog.Entry)

// ProgressFunc reports historical back-fill progress per page.
type ProgressFunc func(pagesFetched, cumulativeEntries int)

// Config configures a Poller.
type Config struct {
	// Interval between polls. Defaults to DefaultInterval.
	Interval time.Duration
	// PageSize for audit log fetches. Defaults to DefaultPageSize.
	PageSize int
	// NotifyDelay spaces consecutive notification dispatches within
	// one poll so the webhook sink's rate limits are respected.
	NotifyDelay time.Duration
	// BackfillPageDelay is the fixed delay between historical pages.
	BackfillPageDelay time.Duration
	// SnapshotLimit bounds the snapshot emitted on StartPolling.
	SnapshotLimit int
	// Snapshot receives the persisted snapshot on StartPolling. Optional.
	Snapshot SnapshotFunc
	// Logger for poller activity.
	Logger *slog.Logger
	// Metrics for centralized background job tracking. Optional.
	Metrics JobMetrics
}

// Poller owns a cancellable repeating poll task for one group at a
// time. Switching groups cancels the prior task before arming the new
// one. Polls are serialized: a tick that fires while the previous poll
// is still in flight is skipped (ingestion is idempotent by entry ID,
// but skipping avoids duplicate notification dispatch).
type Poller struct {
	config   Config
	source   Source
	store    auditlog.Store
	notifier Notifier
	actions  ActionSink

	logger  *slog.Logger
	metrics JobMetrics
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	running  bool
	groupID  string
	stopCh   chan struct{}
	doneCh   chan struct{}
	inFlight bool
}

// New creates a poller. notifier and actions may be nil; the
// corresponding downstream step is then skipped.
func New(config Config, source Source, store auditlog.Store, notifier Notifier, actions ActionSink) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.NotifyDelay < 0 {
		config.NotifyDelay = 0
	}
	if config.SnapshotLimit <= 0 {
		config.SnapshotLimit = DefaultPageSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Poller{
		config:   config,
		source:   source,
		store:    store,
		notifier: notifier,
		actions:  actions,
		logger:   config.Logger,
		metrics:  config.Metrics,
		sleep:    sleepCtx,
	}
}

// StartPolling begins monitoring a group: any existing poll task is
// cancelled first, the persisted snapshot is emitted, and a repeating
// poll is armed with one immediate poll.
func (p *Poller) StartPolling(ctx context.Context, groupID string) error {
	p.StopPolling()

	snapshot, err := p.store.Recent(ctx, groupID, p.config.SnapshotLimit)
	if err != nil {
		return err
	}
	if p.config.Snapshot != nil {
		p.config.Snapshot(snapshot)
	}

	p.mu.Lock()
	p.running = true
	p.groupID = groupID
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	p.logger.Info("polling started",
		slog.String("group_id", groupID),
		slog.Duration("interval", p.config.Interval))

	go p.run(ctx, groupID, stopCh, doneCh)
	return nil
}

// StopPolling cancels the poll task and waits for it to finish.
// Idempotent if already stopped.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh

	p.mu.Lock()
	p.running = false
	p.groupID = ""
	p.mu.Unlock()
}

// IsRunning returns whether a poll task is armed.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// run is the main loop: one immediate poll, then one per tick.
func (p *Poller) run(ctx context.Context, groupID string, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	p.pollGuarded(ctx, groupID)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping due to context cancellation",
				slog.String("group_id", groupID))
			return
		case <-stopCh:
			p.logger.Info("poller stopping due to stop signal",
				slog.String("group_id", groupID))
			return
		case <-ticker.C:
			p.pollGuarded(ctx, groupID)
		}
	}
}

// pollGuarded runs one poll cycle; the scheduler never fails on poll
// errors, they are logged and the next tick proceeds.
func (p *Poller) pollGuarded(ctx context.Context, groupID string) {
	start := time.Now()
	newCount, err := p.PollOnce(ctx, groupID)
	switch {
	case errors.Is(err, ErrPollInFlight):
		p.logger.Warn("skipping poll tick, previous poll still in flight",
			slog.String("group_id", groupID))
		return
	case err != nil:
		p.logger.Error("poll failed",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()))
		if p.metrics != nil {
			p.metrics.IncJobsTotal("audit_poll", "failure")
			p.metrics.IncJobErrors("audit_poll", "poll")
		}
		return
	}

	if p.metrics != nil {
		p.metrics.IncJobsTotal("audit_poll", "success")
		p.metrics.ObserveJobDuration("audit_poll", time.Since(start).Seconds())
	}
	if newCount > 0 {
		p.logger.Info("poll ingested new entries",
			slog.String("group_id", groupID),
			slog.Int("new_entries", newCount))
	}
}

// PollOnce fetches the most recent audit log page, computes which
// entries are new before insertion, persists everything, and triggers
// at most 10 notification dispatches for the new subset. Returns the
// number of truly new entries, or ErrPollInFlight if a poll for this
// consumer is already running.
func (p *Poller) PollOnce(ctx context.Context, groupID string) (int, error) {
	if !p.acquire() {
		return 0, ErrPollInFlight
	}
	defer p.release()

	ctx, endSpan := tracing.StartSpan(ctx, "poll_audit_log")
	newCount, err := p.pollOnce(ctx, groupID)
	endSpan(err)
	return newCount, err
}

func (p *Poller) pollOnce(ctx context.Context, groupID string) (int, error) {
	entries, err := p.source.AuditLog(ctx, groupID, 0, p.config.PageSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	// The new-entry set is computed before insertion so a concurrent
	// writer cannot hide entries from the notification path.
	existing, err := p.store.ExistingIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	var newEntries []*auditlog.Entry
	for _, e := range entries {
		if _, err := p.store.Insert(ctx, e); err != nil {
			p.logger.Error("failed to persist audit log entry",
				slog.String("entry_id", e.ID),
				slog.String("group_id", groupID),
				slog.String("error", err.Error()))
			continue
		}
		if !existing[e.ID] {
			newEntries = append(newEntries, e)
		}
	}

	p.trackNewActions(ctx, newEntries)
	p.notifyNewEntries(ctx, newEntries)
	return len(newEntries), nil
}

// trackNewActions feeds new entries of monitored event types into the
// threshold tracker.
func (p *Poller) trackNewActions(ctx context.Context, entries []*auditlog.Entry) {
	if p.actions == nil {
		return
	}
	for _, e := range entries {
		category, ok := policy.CategoryForEvent(e.EventType)
		if !ok {
			continue
		}
		p.actions.TrackAction(ctx, security.ActionInput{
			GroupID:    e.GroupID,
			ActorID:    e.ActorID,
			ActorName:  e.ActorName,
			Category:   category,
			TargetID:   e.TargetID,
			TargetName: e.TargetName,
			Details:    e.Description,
			OccurredAt: e.CreatedAt,
		})
	}
}

// notifyNewEntries dispatches routine notifications for up to
// maxNotificationsPerPoll new entries, spaced by NotifyDelay.
func (p *Poller) notifyNewEntries(ctx context.Context, entries []*auditlog.Entry) {
	if p.notifier == nil {
		return
	}
	attempts := 0
	for _, e := range entries {
		if attempts >= maxNotificationsPerPoll {
			p.logger.Info("notification cap reached for this poll",
				slog.Int("new_entries", len(entries)),
				slog.Int("dispatched", attempts))
			break
		}
		if attempts > 0 && p.config.NotifyDelay > 0 {
			if err := p.sleep(ctx, p.config.NotifyDelay); err != nil {
				return
			}
		}
		attempts++

		sent, err := p.notifier.DispatchAuditEvent(ctx, e, "")
		if err != nil {
			// Non-fatal: the entry stays persisted either way.
			if p.metrics != nil {
				p.metrics.IncJobErrors("notification_dispatch", "audit_event")
			}
			continue
		}
		if sent {
			if err := p.store.MarkDiscordSent(ctx, e.ID, time.Now().UTC()); err != nil {
				p.logger.Warn("failed to mark entry notified",
					slog.String("entry_id", e.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// FetchHistorical paginates the audit log from offset 0 until a short
// or empty page, persisting incrementally and reporting progress per
// page. maxPages of 0 means no page bound. Back-fills share the
// in-flight guard with regular polls.
func (p *Poller) FetchHistorical(ctx context.Context, groupID string, maxPages int, progress ProgressFunc) (int, error) {
	if !p.acquire() {
		return 0, ErrPollInFlight
	}
	defer p.release()

	ctx, endSpan := tracing.StartSpan(ctx, "fetch_historical")
	total, err := p.fetchHistorical(ctx, groupID, maxPages, progress)
	endSpan(err)

	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		p.metrics.IncJobsTotal("historical_backfill", status)
	}
	return total, err
}

func (p *Poller) fetchHistorical(ctx context.Context, groupID string, maxPages int, progress ProgressFunc) (int, error) {
	offset := 0
	pages := 0
	total := 0

	for {
		entries, err := p.source.AuditLog(ctx, groupID, offset, p.config.PageSize)
		if err != nil {
			// Incremental persistence means everything fetched so far
			// is already stored.
			return total, err
		}

		for _, e := range entries {
			if _, err := p.store.Insert(ctx, e); err != nil {
				p.logger.Error("failed to persist audit log entry",
					slog.String("entry_id", e.ID),
					slog.String("group_id", groupID),
					slog.String("error", err.Error()))
			}
		}

		pages++
		total += len(entries)
		if progress != nil {
			progress(pages, total)
		}

		if len(entries) < p.config.PageSize {
			break
		}
		if maxPages > 0 && pages >= maxPages {
			break
		}

		if p.config.BackfillPageDelay > 0 {
			if err := p.sleep(ctx, p.config.BackfillPageDelay); err != nil {
				return total, err
			}
		}
		offset += p.config.PageSize
	}
	return total, nil
}

func (p *Poller) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return false
	}
	p.inFlight = true
	return true
}

func (p *Poller) release() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
