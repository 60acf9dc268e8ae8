package ar

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

// Repository provides PostgreSQL backed persistence for obligations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new open obligation. Re-recording for the same document
// refreshes the amount instead of duplicating the row.
func (r *Repository) Create(ctx context.Context, o Obligation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounting_obligations (id, doc_id, doc_no, job_id, customer_name,
			amount, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7, NOW(), NOW())
		ON CONFLICT (doc_id) DO UPDATE SET
			amount = EXCLUDED.amount, balance = EXCLUDED.balance,
			status = EXCLUDED.status, updated_at = NOW()`,
		o.ID, o.DocID, o.DocNo, o.JobID, o.CustomerName, o.Amount, ObligationOpen)
	if err != nil {
		return mapStoreErr(fmt.Errorf("ar: create obligation: %w", err))
	}
	return nil
}

// GetByDoc fetches the obligation for a document.
func (r *Repository) GetByDoc(ctx context.Context, docID uuid.UUID) (*Obligation, error) {
	var o Obligation
	err := r.pool.QueryRow(ctx, `
		SELECT id, doc_id, doc_no, job_id, customer_name, amount, balance, status, created_at, updated_at
		FROM accounting_obligations WHERE doc_id = $1`, docID).
		Scan(&o.ID, &o.DocID, &o.DocNo, &o.JobID, &o.CustomerName, &o.Amount, &o.Balance,
			&o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ar: obligation for %s: %w", docID, shared.ErrNotFound)
		}
		return nil, err
	}
	return &o, nil
}

// SetStatus updates status; settling also zeroes the balance.
func (r *Repository) SetStatus(ctx context.Context, docID uuid.UUID, status ObligationStatus) error {
	query := `UPDATE accounting_obligations SET status = $2, updated_at = NOW() WHERE doc_id = $1`
	if status == ObligationSettled {
		query = `UPDATE accounting_obligations SET status = $2, balance = 0, updated_at = NOW() WHERE doc_id = $1`
	}
	tag, err := r.pool.Exec(ctx, query, docID, status)
	if err != nil {
		return mapStoreErr(fmt.Errorf("ar: set status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ar: obligation for %s: %w", docID, shared.ErrNotFound)
	}
	return nil
}

// mapStoreErr turns serialization and deadlock failures into
// ErrStoreConflict so callers know a verbatim retry is safe.
func mapStoreErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", shared.ErrStoreConflict, pgErr.Code)
		}
	}
	return err
}

// ListOpen returns open obligations, oldest first.
func (r *Repository) ListOpen(ctx context.Context, limit int) ([]Obligation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, doc_id, doc_no, job_id, customer_name, amount, balance, status, created_at, updated_at
		FROM accounting_obligations WHERE status = $1 ORDER BY created_at LIMIT $2`,
		ObligationOpen, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Obligation
	for rows.Next() {
		var o Obligation
		if err := rows.Scan(&o.ID, &o.DocID, &o.DocNo, &o.JobID, &o.CustomerName, &o.Amount,
			&o.Balance, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
