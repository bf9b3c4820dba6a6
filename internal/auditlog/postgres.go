package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
// Idempotent insertion relies on the audit_log_entries primary key.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Insert persists an entry, idempotently by ID.
// ON CONFLICT DO NOTHING enforces the unique-ID invariant; the
// reported row count distinguishes a fresh insert from a duplicate.
func (s *PostgresStore) Insert(ctx context.Context, entry *Entry) (bool, error) {
	query := `
		INSERT INTO audit_log_entries
			(id, group_id, event_type, actor_id, actor_name,
			 target_id, target_name, description, created_at, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.GroupID, string(entry.EventType),
		entry.ActorID, entry.ActorName,
		entry.TargetID, entry.TargetName,
		entry.Description, entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert audit log entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return rows > 0, nil
}

// ExistingIDs reports which of the given IDs are already stored.
func (s *PostgresStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	query := `SELECT id FROM audit_log_entries WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing entry ids: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entry id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entry ids: %w", err)
	}
	return existing, nil
}

// Recent returns up to limit entries for a group, newest first.
func (s *PostgresStore) Recent(ctx context.Context, groupID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, group_id, event_type, actor_id, actor_name,
		       target_id, target_name, description, created_at,
		       discord_sent_at, inserted_at
		FROM audit_log_entries
		WHERE group_id = $1
		ORDER BY created_at DESC
	`
	args := []any{groupID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var results []*Entry
	for rows.Next() {
		var (
			entry     Entry
			eventType string
			sentAt    sql.NullTime
		)
		if err := rows.Scan(&entry.ID, &entry.GroupID, &eventType,
			&entry.ActorID, &entry.ActorName,
			&entry.TargetID, &entry.TargetName,
			&entry.Description, &entry.CreatedAt,
			&sentAt, &entry.InsertedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.EventType = EventType(eventType)
		if sentAt.Valid {
			t := sentAt.Time
			entry.DiscordSentAt = &t
		}
		results = append(results, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return results, nil
}

// MarkDiscordSent stamps DiscordSentAt on the stored entry.
func (s *PostgresStore) MarkDiscordSent(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE audit_log_entries SET discord_sent_at = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark entry notified: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
