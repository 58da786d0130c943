// Package rules provides alert rule storage and management.
package rules

import (
	"context"

	"github.com/bissquit/incident-alerts/internal/domain"
)

// Repository is the durable rule store.
//
// Writes are durable before the call returns. List returns rules in insertion
// order and reflects every successful Put and Delete made through the same repository.
// Implementations wrap backend failures with ErrStoreUnavailable.
type Repository interface {
	// Put stores the rule and returns its id. A rule with an empty ID gets a new one;
	// a rule with an existing ID replaces the stored rule wholesale.
	Put(ctx context.Context, rule domain.Rule) (string, error)
	Get(ctx context.Context, id string) (*domain.Rule, error)
	List(ctx context.Context) ([]domain.Rule, error)
	Delete(ctx context.Context, id string) (bool, error)
}
