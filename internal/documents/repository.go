package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixflow-erp/fixflow/internal/platform/db"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// JobActivityNote is the ledger entry written alongside a job back-reference
// mutation, so the job's audit trail and last_activity_at never diverge from
// document-side changes.
type JobActivityNote struct {
	Text     string
	UserID   string
	UserName string
}

// Repository provides persistence for documents and the job back-reference
// mutations that must travel in the same transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	List(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error)
	ActiveByJob(ctx context.Context, jobID uuid.UUID, kinds []Kind) (*Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status DocStatus, cancelReason *string) error
	UpdateContent(ctx context.Context, id uuid.UUID, items []Item, grandTotal float64, notes *string) error
	AppendReference(ctx context.Context, id uuid.UUID, ref uuid.UUID) error
	GenerateDocNo(ctx context.Context, kind Kind, date time.Time) (string, error)
	StampJobBilling(ctx context.Context, jobID, docID uuid.UUID, docNo string, kind Kind, note JobActivityNote) error
	ClearJobBilling(ctx context.Context, jobID, docID uuid.UUID, note JobActivityNote) error
	SetJobARStatus(ctx context.Context, jobID uuid.UUID, status string, note JobActivityNote) error
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// WithTx runs fn against a repository bound to one transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return mapStoreErr(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	}))
}

const docColumns = `id, doc_no, kind, status, job_id, references_doc_ids, items,
	grand_total, notes, cancel_reason, issued_by_id, issued_by_name, created_at, updated_at`

var docNoPrefix = map[Kind]string{
	KindQuotation:    "QT",
	KindDeliveryNote: "DN",
	KindTaxInvoice:   "INV",
	KindReceipt:      "RC",
}

// Create inserts the document. Uniqueness of active documents per job is the
// store's partial unique indexes, so the duplicate check and the insert are
// one atomic conditional write; on conflict the existing active document is
// loaded and returned inside DuplicateActiveError.
func (r *repository) Create(ctx context.Context, doc Document) error {
	refs, err := json.Marshal(doc.References)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	items, err := json.Marshal(doc.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO documents (id, doc_no, kind, status, job_id, references_doc_ids,
			items, grand_total, notes, issued_by_id, issued_by_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())`,
		doc.ID, doc.DocNo, doc.Kind, doc.Status, doc.JobID, refs, items,
		doc.GrandTotal, notesParam(doc.Notes), doc.IssuedByID, doc.IssuedByName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && isActiveConflict(pgErr) && doc.JobID != nil {
			kinds := []Kind{doc.Kind}
			if FinalBilling(doc.Kind) {
				kinds = []Kind{KindDeliveryNote, KindTaxInvoice}
			}
			existing, lookupErr := r.ActiveByJob(ctx, *doc.JobID, kinds)
			if lookupErr != nil && !errors.Is(lookupErr, shared.ErrNotFound) {
				return lookupErr
			}
			return &DuplicateActiveError{Kind: doc.Kind, Existing: existing}
		}
		return mapStoreErr(fmt.Errorf("insert document: %w", err))
	}
	return nil
}

// notesParam keeps the NOT NULL notes column satisfied when the caller
// omitted the optional field.
func notesParam(notes *string) string {
	if notes == nil {
		return ""
	}
	return *notes
}

// isActiveConflict reports whether a unique violation came from one of the
// per-job active-document indexes rather than the doc_no constraint.
func isActiveConflict(pgErr *pgconn.PgError) bool {
	if pgErr.Code != "23505" {
		return false
	}
	switch pgErr.ConstraintName {
	case "documents_active_quotation_idx", "documents_active_billing_idx":
		return true
	}
	return false
}

// Get fetches one document.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, docColumns), id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("documents: %s: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// List returns documents matching the filter plus the unfiltered total.
func (r *repository) List(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	var conds []string
	var args []any
	if req.Kind != "" {
		args = append(args, req.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if req.Status != "" {
		args = append(args, req.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if req.JobID != "" {
		args = append(args, req.JobID)
		conds = append(conds, fmt.Sprintf("job_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM documents %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM documents %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		docColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *doc)
	}
	return out, total, rows.Err()
}

// ActiveByJob returns the non-CANCELLED document of the given kinds linked
// to the job, if any.
func (r *repository) ActiveByJob(ctx context.Context, jobID uuid.UUID, kinds []Kind) (*Document, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE job_id = $1 AND kind = ANY($2) AND status <> $3
		ORDER BY created_at DESC LIMIT 1`, docColumns),
		jobID, kindStrs, StatusCancelled)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("documents: active for job %s: %w", jobID, shared.ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// UpdateStatus moves the document to the given status. Cancellation records
// the reason and appends it to the notes.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status DocStatus, cancelReason *string) error {
	var tag pgconn.CommandTag
	var err error
	if status == StatusCancelled && cancelReason != nil {
		tag, err = r.db.Exec(ctx, `
			UPDATE documents SET status = $2, cancel_reason = $3,
				notes = COALESCE(notes || E'\n', '') || 'Cancelled: ' || $3,
				updated_at = NOW()
			WHERE id = $1`, id, status, *cancelReason)
	} else {
		tag, err = r.db.Exec(ctx, `UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	}
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("documents: %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

// UpdateContent replaces items and notes on an unlocked document.
func (r *repository) UpdateContent(ctx context.Context, id uuid.UUID, items []Item, grandTotal float64, notes *string) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET items = $2, grand_total = $3,
			notes = COALESCE($4, notes), updated_at = NOW()
		WHERE id = $1`, id, raw, grandTotal, notes)
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("documents: %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

// AppendReference links a successor document to the one it supersedes.
func (r *repository) AppendReference(ctx context.Context, id uuid.UUID, ref uuid.UUID) error {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	refs := append(doc.References, ref)
	raw, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	_, err = r.db.Exec(ctx, `UPDATE documents SET references_doc_ids = $2, updated_at = NOW() WHERE id = $1`, id, raw)
	return err
}

// GenerateDocNo assigns the next number in the kind's monthly series.
func (r *repository) GenerateDocNo(ctx context.Context, kind Kind, date time.Time) (string, error) {
	prefix, ok := docNoPrefix[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown document kind %q", shared.ErrValidation, kind)
	}
	period := date.Format("200601")
	var seq int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_counters (kind, period, last_seq) VALUES ($1, $2, 1)
		ON CONFLICT (kind, period) DO UPDATE SET last_seq = document_counters.last_seq + 1
		RETURNING last_seq`, kind, period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("generate doc number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq), nil
}

// StampJobBilling writes the sales document back-reference onto the job and
// records the change in the job's ledger, in the caller's transaction.
func (r *repository) StampJobBilling(ctx context.Context, jobID, docID uuid.UUID, docNo string, kind Kind, note JobActivityNote) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE repair_jobs SET sales_doc_id = $2, sales_doc_no = $3, sales_doc_type = $4,
			ar_status = 'PAID', last_activity_at = NOW()
		WHERE id = $1`, jobID, docID, docNo, kind)
	if err != nil {
		return fmt.Errorf("stamp job billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("documents: job %s: %w", jobID, shared.ErrNotFound)
	}
	return r.insertJobActivity(ctx, jobID, note)
}

// ClearJobBilling removes the back-reference when it points at the given
// document, atomically with the cancellation that triggers it.
func (r *repository) ClearJobBilling(ctx context.Context, jobID, docID uuid.UUID, note JobActivityNote) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE repair_jobs SET sales_doc_id = NULL, sales_doc_no = NULL, sales_doc_type = NULL,
			ar_status = '', last_activity_at = NOW()
		WHERE id = $1 AND sales_doc_id = $2`, jobID, docID)
	if err != nil {
		return fmt.Errorf("clear job billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Back-reference pointed elsewhere; nothing to clear and no ledger entry.
		return nil
	}
	return r.insertJobActivity(ctx, jobID, note)
}

// SetJobARStatus flags the job's receivable state.
func (r *repository) SetJobARStatus(ctx context.Context, jobID uuid.UUID, status string, note JobActivityNote) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE repair_jobs SET ar_status = $2, last_activity_at = NOW() WHERE id = $1`, jobID, status)
	if err != nil {
		return fmt.Errorf("set job ar status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("documents: job %s: %w", jobID, shared.ErrNotFound)
	}
	return r.insertJobActivity(ctx, jobID, note)
}

func (r *repository) insertJobActivity(ctx context.Context, jobID uuid.UUID, note JobActivityNote) error {
	if note.Text == "" {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO job_activities (id, job_id, text, user_id, user_name, photos, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		uuid.New(), jobID, note.Text, note.UserID, note.UserName, []string{})
	if err != nil {
		return fmt.Errorf("insert job activity: %w", err)
	}
	return nil
}

// mapStoreErr classifies transaction failures: serialization and deadlock
// errors become ErrStoreConflict (safe to retry verbatim), domain errors
// pass through untouched.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrDuplicateActive) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", shared.ErrStoreConflict, pgErr.Code)
		}
	}
	if strings.Contains(err.Error(), "commit tx") {
		return fmt.Errorf("%w: %v", shared.ErrStoreConflict, err)
	}
	return err
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var refs, items []byte
	err := row.Scan(&d.ID, &d.DocNo, &d.Kind, &d.Status, &d.JobID, &refs, &items,
		&d.GrandTotal, &d.Notes, &d.CancelReason, &d.IssuedByID, &d.IssuedByName,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &d.References); err != nil {
			return nil, fmt.Errorf("unmarshal references: %w", err)
		}
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &d.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	return &d, nil
}
