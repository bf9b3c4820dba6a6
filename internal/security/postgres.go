package security

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/groupwatch/internal/policy"
)

// PostgresActionStore implements ActionStore using PostgreSQL.
type PostgresActionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresActionStore creates a new PostgresActionStore.
func NewPostgresActionStore(db *sql.DB, logger *slog.Logger) *PostgresActionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresActionStore{db: db, logger: logger}
}

// Append records an action.
func (s *PostgresActionStore) Append(ctx context.Context, action *Action) error {
	query := `
		INSERT INTO security_actions
			(group_id, actor_id, actor_name, category,
			 target_id, target_name, occurred_at, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		action.GroupID, action.ActorID, action.ActorName,
		string(action.Category), action.TargetID, action.TargetName,
		action.OccurredAt, action.Details).Scan(&action.ID)
	if err != nil {
		return fmt.Errorf("failed to append security action: %w", err)
	}
	return nil
}

// CountSince counts matching actions strictly after the cutoff.
func (s *PostgresActionStore) CountSince(ctx context.Context, groupID, actorID string, category policy.ActionCategory, cutoff time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_actions
		WHERE group_id = $1 AND actor_id = $2 AND category = $3
		  AND occurred_at > $4
	`
	var count int
	err := s.db.QueryRowContext(ctx, query, groupID, actorID, string(category), cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count security actions: %w", err)
	}
	return count, nil
}

// RecentMatching returns up to limit matching actions, newest first.
func (s *PostgresActionStore) RecentMatching(ctx context.Context, groupID, actorID string, category policy.ActionCategory, limit int) ([]*Action, error) {
	query := `
		SELECT id, group_id, actor_id, actor_name, category,
		       target_id, target_name, occurred_at, details
		FROM security_actions
		WHERE group_id = $1 AND actor_id = $2 AND category = $3
		ORDER BY occurred_at DESC
	`
	args := []any{groupID, actorID, string(category)}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security actions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var results []*Action
	for rows.Next() {
		var (
			a   Action
			cat string
		)
		if err := rows.Scan(&a.ID, &a.GroupID, &a.ActorID, &a.ActorName,
			&cat, &a.TargetID, &a.TargetName, &a.OccurredAt, &a.Details); err != nil {
			return nil, fmt.Errorf("failed to scan security action: %w", err)
		}
		a.Category = policy.ActionCategory(cat)
		results = append(results, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate security actions: %w", err)
	}
	return results, nil
}

// PostgresIncidentStore implements IncidentStore using PostgreSQL.
type PostgresIncidentStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresIncidentStore creates a new PostgresIncidentStore.
func NewPostgresIncidentStore(db *sql.DB, logger *slog.Logger) *PostgresIncidentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIncidentStore{db: db, logger: logger}
}

// Create persists a new incident.
func (s *PostgresIncidentStore) Create(ctx context.Context, incident *Incident) error {
	query := `
		INSERT INTO security_incidents
			(id, group_id, actor_id, actor_name, incident_type,
			 action_count, timeframe_minutes, threshold,
			 roles_removed, removed_role_ids, discord_notified,
			 detected_at, details, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		incident.ID, incident.GroupID, incident.ActorID, incident.ActorName,
		incident.Type, incident.ActionCount, incident.TimeframeMinutes,
		incident.Threshold, incident.RolesRemoved,
		strings.Join(incident.RemovedRoleIDs, ","), incident.DiscordNotified,
		incident.DetectedAt, incident.Details, incident.Resolved)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// OpenSince returns an unresolved same-type incident detected strictly
// after the cutoff, or nil.
func (s *PostgresIncidentStore) OpenSince(ctx context.Context, groupID, actorID, incidentType string, cutoff time.Time) (*Incident, error) {
	query := selectIncident + `
		WHERE group_id = $1 AND actor_id = $2 AND incident_type = $3
		  AND resolved = FALSE AND detected_at > $4
		ORDER BY detected_at DESC
		LIMIT 1
	`
	incident, err := s.scanOne(s.db.QueryRowContext(ctx, query, groupID, actorID, incidentType, cutoff))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open incident: %w", err)
	}
	return incident, nil
}

// Get returns the incident with the given ID.
func (s *PostgresIncidentStore) Get(ctx context.Context, id string) (*Incident, error) {
	query := selectIncident + ` WHERE id = $1`
	incident, err := s.scanOne(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query incident: %w", err)
	}
	return incident, nil
}

// SetRolesRemoved records the remediation outcome.
func (s *PostgresIncidentStore) SetRolesRemoved(ctx context.Context, id string, removed bool, roleIDs []string) error {
	query := `
		UPDATE security_incidents
		SET roles_removed = $2, removed_role_ids = $3
		WHERE id = $1
	`
	return s.exec(ctx, query, id, removed, strings.Join(roleIDs, ","))
}

// SetNotified marks the incident's alert as delivered.
func (s *PostgresIncidentStore) SetNotified(ctx context.Context, id string) error {
	query := `UPDATE security_incidents SET discord_notified = TRUE WHERE id = $1`
	return s.exec(ctx, query, id)
}

// AppendDetails appends a note to the incident's Details text.
func (s *PostgresIncidentStore) AppendDetails(ctx context.Context, id, note string) error {
	query := `
		UPDATE security_incidents
		SET details = CASE WHEN details = '' THEN $2
		              ELSE details || E'\n' || $2 END
		WHERE id = $1
	`
	return s.exec(ctx, query, id, note)
}

const selectIncident = `
	SELECT id, group_id, actor_id, actor_name, incident_type,
	       action_count, timeframe_minutes, threshold,
	       roles_removed, removed_role_ids, discord_notified,
	       detected_at, details, resolved, resolved_at
	FROM security_incidents
`

func (s *PostgresIncidentStore) scanOne(row *sql.Row) (*Incident, error) {
	var (
		inc        Incident
		roleIDs    string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&inc.ID, &inc.GroupID, &inc.ActorID, &inc.ActorName,
		&inc.Type, &inc.ActionCount, &inc.TimeframeMinutes, &inc.Threshold,
		&inc.RolesRemoved, &roleIDs, &inc.DiscordNotified,
		&inc.DetectedAt, &inc.Details, &inc.Resolved, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if roleIDs != "" {
		inc.RemovedRoleIDs = strings.Split(roleIDs, ",")
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	return &inc, nil
}

func (s *PostgresIncidentStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return ErrIncidentNotFound
	}
	return nil
}
