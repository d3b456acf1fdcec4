package postgres

import (
	"context"
	"database/sql"

	"printgate/internal/model"
	"printgate/internal/repository"
)

// PrintLogPostgres is a PostgreSQL implementation of repository.PrintLogRepository.
type PrintLogPostgres struct {
	db *sql.DB
}

// NewPrintLogPostgres creates a new PrintLogPostgres repository.
func NewPrintLogPostgres(db *sql.DB) *PrintLogPostgres {
	return &PrintLogPostgres{db: db}
}

var _ repository.PrintLogRepository = (*PrintLogPostgres)(nil)

// Create inserts one audit row.
func (r *PrintLogPostgres) Create(ctx context.Context, e *model.PrintLogEntry) error {
	const q = `
		INSERT INTO print_logs (id, document_id, user_id, token, client_ip, user_agent, printed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.DocumentID,
		e.OwnerID,
		e.Token,
		e.ClientIP,
		e.UserAgent,
		e.PrintedAt,
	)
	return err
}
