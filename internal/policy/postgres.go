package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/onnwee/groupwatch/internal/auditlog"
)

// PostgresProvider serves per-group policy overrides from the
// group_policies table. Global defaults are fixed at construction
// (they come from service configuration, not the database).
type PostgresProvider struct {
	db     *sql.DB
	global GlobalPolicy
	logger *slog.Logger
}

// NewPostgresProvider creates a provider reading group overrides from
// the given database, layered over the supplied global defaults.
func NewPostgresProvider(db *sql.DB, global GlobalPolicy, logger *slog.Logger) *PostgresProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresProvider{db: db, global: global, logger: logger}
}

// GlobalPolicy returns the configured global defaults.
func (p *PostgresProvider) GlobalPolicy(_ context.Context) (*GlobalPolicy, error) {
	g := p.global
	g.Categories = cloneCategoryOverrides(p.global.Categories)
	g.Events = cloneEventToggles(p.global.Events)
	return &g, nil
}

// GroupPolicy returns the stored overrides for a group, or nil when
// the group has none.
func (p *PostgresProvider) GroupPolicy(ctx context.Context, groupID string) (*GroupPolicy, error) {
	query := `
		SELECT monitoring_enabled, auto_remove_roles, notify_discord,
		       require_owner, owner_user_id, webhook_url,
		       security_webhook_url, categories, events
		FROM group_policies
		WHERE group_id = $1
	`
	var (
		gp             GroupPolicy
		categoriesJSON []byte
		eventsJSON     []byte
	)
	gp.GroupID = groupID

	var monitoring, autoRemove, notify, requireOwner sql.NullBool
	err := p.db.QueryRowContext(ctx, query, groupID).Scan(
		&monitoring, &autoRemove, &notify, &requireOwner,
		&gp.OwnerUserID, &gp.WebhookURL, &gp.SecurityWebhookURL,
		&categoriesJSON, &eventsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group policy: %w", err)
	}

	gp.MonitoringEnabled = nullBoolPtr(monitoring)
	gp.AutoRemoveRoles = nullBoolPtr(autoRemove)
	gp.NotifyDiscord = nullBoolPtr(notify)
	gp.RequireOwner = nullBoolPtr(requireOwner)

	if len(categoriesJSON) > 0 {
		if err := json.Unmarshal(categoriesJSON, &gp.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode category overrides: %w", err)
		}
	}
	if len(eventsJSON) > 0 {
		if err := json.Unmarshal(eventsJSON, &gp.Events); err != nil {
			return nil, fmt.Errorf("failed to decode event toggles: %w", err)
		}
	}
	return &gp, nil
}

// SaveGroupPolicy upserts per-group overrides.
func (p *PostgresProvider) SaveGroupPolicy(ctx context.Context, gp *GroupPolicy) error {
	categoriesJSON, err := json.Marshal(orEmptyCategories(gp.Categories))
	if err != nil {
		return fmt.Errorf("failed to encode category overrides: %w", err)
	}
	eventsJSON, err := json.Marshal(orEmptyEvents(gp.Events))
	if err != nil {
		return fmt.Errorf("failed to encode event toggles: %w", err)
	}

	query := `
		INSERT INTO group_policies
			(group_id, monitoring_enabled, auto_remove_roles,
			 notify_discord, require_owner, owner_user_id,
			 webhook_url, security_webhook_url, categories, events,
			 updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (group_id) DO UPDATE SET
			monitoring_enabled = EXCLUDED.monitoring_enabled,
			auto_remove_roles = EXCLUDED.auto_remove_roles,
			notify_discord = EXCLUDED.notify_discord,
			require_owner = EXCLUDED.require_owner,
			owner_user_id = EXCLUDED.owner_user_id,
			webhook_url = EXCLUDED.webhook_url,
			security_webhook_url = EXCLUDED.security_webhook_url,
			categories = EXCLUDED.categories,
			events = EXCLUDED.events,
			updated_at = NOW()
	`
	_, err = p.db.ExecContext(ctx, query,
		gp.GroupID,
		boolPtrNull(gp.MonitoringEnabled), boolPtrNull(gp.AutoRemoveRoles),
		boolPtrNull(gp.NotifyDiscord), boolPtrNull(gp.RequireOwner),
		gp.OwnerUserID, gp.WebhookURL, gp.SecurityWebhookURL,
		categoriesJSON, eventsJSON)
	if err != nil {
		return fmt.Errorf("failed to save group policy: %w", err)
	}
	return nil
}

func nullBoolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

func boolPtrNull(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func orEmptyCategories(m map[ActionCategory]CategoryOverride) map[ActionCategory]CategoryOverride {
	if m == nil {
		return map[ActionCategory]CategoryOverride{}
	}
	return m
}

func orEmptyEvents(m map[auditlog.EventType]*bool) map[auditlog.EventType]*bool {
	if m == nil {
		return map[auditlog.EventType]*bool{}
	}
	return m
}
