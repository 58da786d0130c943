// Package postgres provides PostgreSQL implementation of the delivery record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-alerts/internal/delivery"
	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository implements delivery.RecordStore using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectColumns = `
	id, incident_id, rule_id, incident_revision, status, attempt_count, next_retry_at,
	last_error, incident, rule_filters, channel_type, channel_value, created_at, updated_at, delivered_at
`

// Create implements delivery.RecordStore.
func (r *Repository) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (
			id, incident_id, rule_id, incident_revision, status, attempt_count, next_retry_at,
			last_error, incident, rule_filters, channel_type, channel_value, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.IncidentID,
		rec.RuleID,
		rec.IncidentRevision,
		rec.Status,
		rec.AttemptCount,
		rec.NextRetryAt,
		rec.LastError,
		rec.Incident,
		rec.Rule.Filters,
		rec.Channel.Type,
		rec.Channel.Value,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return delivery.ErrRecordExists
		}
		return fmt.Errorf("create delivery record: %w", err)
	}
	return nil
}

// Get implements delivery.RecordStore.
func (r *Repository) Get(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	if uuid.Validate(id) != nil {
		return nil, delivery.ErrRecordNotFound
	}
	query := `SELECT ` + selectColumns + ` FROM delivery_records WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return rec, nil
}

// UpdatePending implements delivery.RecordStore.
func (r *Repository) UpdatePending(ctx context.Context, rec *domain.DeliveryRecord) (bool, error) {
	query := `
		UPDATE delivery_records
		SET status = $2,
		    attempt_count = $3,
		    next_retry_at = $4,
		    last_error = $5,
		    updated_at = $6,
		    delivered_at = $7
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.Status,
		rec.AttemptCount,
		rec.NextRetryAt,
		rec.LastError,
		rec.UpdatedAt,
		rec.DeliveredAt,
	)
	if err != nil {
		return false, fmt.Errorf("update delivery record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelByRule implements delivery.RecordStore.
func (r *Repository) CancelByRule(ctx context.Context, ruleID string) (int, error) {
	query := `
		UPDATE delivery_records
		SET status = 'cancelled', updated_at = NOW()
		WHERE rule_id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, ruleID)
	if err != nil {
		return 0, fmt.Errorf("cancel delivery records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByStatus implements delivery.RecordStore.
func (r *Repository) ListByStatus(ctx context.Context, status domain.DeliveryStatus, limit int) ([]domain.DeliveryRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM delivery_records WHERE status = $1 ORDER BY created_at`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DeliveryRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery records: %w", err)
	}
	return records, nil
}

// DeleteTerminalBefore implements delivery.RecordStore.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM delivery_records
		WHERE status <> 'pending' AND updated_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete delivery records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountByStatus implements delivery.RecordStore.
func (r *Repository) CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM delivery_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count delivery records: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DeliveryStatus]int)
	for rows.Next() {
		var status domain.DeliveryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	err := row.Scan(
		&rec.ID,
		&rec.IncidentID,
		&rec.RuleID,
		&rec.IncidentRevision,
		&rec.Status,
		&rec.AttemptCount,
		&rec.NextRetryAt,
		&rec.LastError,
		&rec.Incident,
		&rec.Rule.Filters,
		&rec.Channel.Type,
		&rec.Channel.Value,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Rule.ID = rec.RuleID
	rec.Rule.Channel = rec.Channel
	return &rec, nil
}
