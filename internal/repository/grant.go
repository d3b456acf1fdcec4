package repository

import (
	"context"

	"printgate/internal/model"
)

// GrantRepository defines data access for print assignments using SQL queries only.
// No business logic here; strictly persistence operations.
type GrantRepository interface {
	// FindByToken returns the grant identified by token with its document joined.
	// Returns sql.ErrNoRows when no grant matches. A grant whose document row is
	// missing is returned with a nil Document.
	FindByToken(ctx context.Context, token string) (*model.AccessGrant, error)

	// ConsumePrint decrements remaining_prints by one in a single conditional
	// statement and returns the new value. Returns sql.ErrNoRows when the grant
	// has no prints left (or does not exist); it never falls back to a read.
	ConsumePrint(ctx context.Context, grantID string) (int, error)
}

// PrintLogRepository persists the print audit trail.
type PrintLogRepository interface {
	// Create appends an entry. Entries are never updated or deleted.
	Create(ctx context.Context, entry *model.PrintLogEntry) error
}
