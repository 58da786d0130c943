// Package postgres provides PostgreSQL implementation of rules repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/rules"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements rules.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Put inserts the rule or replaces the rule with the same id. Replacing keeps
// the original insertion sequence.
func (r *Repository) Put(ctx context.Context, rule domain.Rule) (string, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	query := `
		INSERT INTO alert_rules (id, filters, channel_type, channel_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET filters = EXCLUDED.filters,
		    channel_type = EXCLUDED.channel_type,
		    channel_value = EXCLUDED.channel_value,
		    updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, rule.ID, rule.Filters, rule.Channel.Type, rule.Channel.Value)
	if err != nil {
		return "", fmt.Errorf("%w: put rule: %w", rules.ErrStoreUnavailable, err)
	}
	return rule.ID, nil
}

// Get retrieves a rule by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Rule, error) {
	if uuid.Validate(id) != nil {
		return nil, rules.ErrRuleNotFound
	}

	query := `
		SELECT id, filters, channel_type, channel_value, created_at
		FROM alert_rules
		WHERE id = $1
	`
	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rules.ErrRuleNotFound
		}
		return nil, fmt.Errorf("%w: get rule: %w", rules.ErrStoreUnavailable, err)
	}
	return rule, nil
}

// List retrieves all rules in insertion order.
func (r *Repository) List(ctx context.Context) ([]domain.Rule, error) {
	query := `
		SELECT id, filters, channel_type, channel_value, created_at
		FROM alert_rules
		ORDER BY seq
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list rules: %w", rules.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	result := make([]domain.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan rule: %w", rules.ErrStoreUnavailable, err)
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rules: %w", rules.ErrStoreUnavailable, err)
	}
	return result, nil
}

// Delete removes a rule by ID.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("%w: delete rule: %w", rules.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanRule(row pgx.Row) (*domain.Rule, error) {
	var rule domain.Rule
	err := row.Scan(
		&rule.ID,
		&rule.Filters,
		&rule.Channel.Type,
		&rule.Channel.Value,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
