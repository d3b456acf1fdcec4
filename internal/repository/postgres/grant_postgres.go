package postgres

import (
	"context"
	"database/sql"

	"printgate/internal/model"
	"printgate/internal/repository"
)

// GrantPostgres is a PostgreSQL implementation of repository.GrantRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type GrantPostgres struct {
	db *sql.DB
}

// NewGrantPostgres creates a new GrantPostgres repository.
func NewGrantPostgres(db *sql.DB) *GrantPostgres {
	return &GrantPostgres{db: db}
}

var _ repository.GrantRepository = (*GrantPostgres)(nil)

// FindByToken fetches a grant and its document in one round trip.
func (r *GrantPostgres) FindByToken(ctx context.Context, token string) (*model.AccessGrant, error) {
	const q = `
		SELECT g.id, g.token, g.document_id, g.user_id, g.remaining_prints, g.expires_at,
		       COALESCE(g.watermark_text, ''), g.created_at,
		       d.id, d.filename, d.storage_path, d.size, d.content_type, d.created_at
		FROM print_assignments g
		LEFT JOIN documents d ON d.id = g.document_id
		WHERE g.token = $1
	`
	var (
		g        model.AccessGrant
		docID    sql.NullString
		filename sql.NullString
		path     sql.NullString
		size     sql.NullInt64
		ctype    sql.NullString
		created  sql.NullTime
	)
	row := r.db.QueryRowContext(ctx, q, token)
	if err := row.Scan(
		&g.ID,
		&g.Token,
		&g.DocumentID,
		&g.OwnerID,
		&g.RemainingPrints,
		&g.ExpiresAt,
		&g.WatermarkText,
		&g.CreatedAt,
		&docID,
		&filename,
		&path,
		&size,
		&ctype,
		&created,
	); err != nil {
		return nil, err
	}

	if docID.Valid {
		g.Document = &model.Document{
			ID:          docID.String,
			Filename:    filename.String,
			StoragePath: path.String,
			Size:        size.Int64,
			ContentType: ctype.String,
			CreatedAt:   created.Time,
		}
	}
	return &g, nil
}

// ConsumePrint is the quota ledger's only write. The WHERE clause makes the
// check and the decrement one atomic statement, so concurrent callers cannot
// both take the last print.
func (r *GrantPostgres) ConsumePrint(ctx context.Context, grantID string) (int, error) {
	const q = `
		UPDATE print_assignments
		SET remaining_prints = remaining_prints - 1
		WHERE id = $1 AND remaining_prints > 0
		RETURNING remaining_prints
	`
	var remaining int
	if err := r.db.QueryRowContext(ctx, q, grantID).Scan(&remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}
