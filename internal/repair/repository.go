package repair

import (
	"context"
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

// ListFilter narrows job listings.
type ListFilter struct {
	Status     *Status
	Department *shared.Department
	AssigneeID *string
}

// Repository provides persistence for jobs and their activity ledger.
type Repository interface {
	Create(ctx context.Context, job Job, intake Activity) (*Job, error)
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	GetArchived(ctx context.Context, id uuid.UUID, year int) (*Job, error)
	ArchiveYear(ctx context.Context, id uuid.UUID) (int, error)
	AppendAndMutate(ctx context.Context, jobID uuid.UUID, patch JobPatch, activity Activity) error
	ListAfter(ctx context.Context, f ListFilter, cursor *shared.Cursor, limit int) ([]Job, error)
	ListTopN(ctx context.Context, f ListFilter, n int) ([]Job, error)
	ListActivities(ctx context.Context, jobID uuid.UUID, source Source, year int) ([]Activity, error)
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ArchiveJob(ctx context.Context, id uuid.UUID, year int) error
}

// patchColumns whitelists the job columns a patch may touch.
var patchColumns = map[string]bool{
	"status":         true,
	"department":     true,
	"assignee_id":    true,
	"assignee_name":  true,
	"pickup_date":    true,
	"closed_date":    true,
	"sales_doc_id":   true,
	"sales_doc_no":   true,
	"sales_doc_type": true,
	"ar_status":      true,
}

const jobColumns = `id, status, department, assignee_id, assignee_name, customer_name,
	customer_phone, description, last_activity_at, pickup_date, closed_date,
	is_archived, ar_status, sales_doc_id, sales_doc_no, sales_doc_type, created_at`

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// Create inserts the job and its intake activity as one unit.
func (r *repository) Create(ctx context.Context, job Job, intake Activity) (*Job, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, status, department, customer_name, customer_phone,
				description, ar_status, last_activity_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, '', NOW(), NOW())`, JobsCollection(SourceActive, 0)),
			job.ID, job.Status, job.Department, job.CustomerName, job.CustomerPhone, job.Description)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, job_id, text, user_id, user_name, photos, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`, ActivitiesCollection(SourceActive, 0)),
			intake.ID, job.ID, intake.Text, intake.UserID, intake.UserName, photosParam(intake.Photos))
		if err != nil {
			return fmt.Errorf("insert intake activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return r.Get(ctx, job.ID)
}

// Get fetches a job from the active collection.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return r.getFrom(ctx, JobsCollection(SourceActive, 0), id)
}

// GetArchived fetches a job from one year partition.
func (r *repository) GetArchived(ctx context.Context, id uuid.UUID, year int) (*Job, error) {
	job, err := r.getFrom(ctx, JobsCollection(SourceArchive, year), id)
	if err != nil {
		var pgErr *pgconn.PgError
		// 42P01: partition for that year was never created.
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil, fmt.Errorf("repair: job %s: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}
	return job, nil
}

func (r *repository) getFrom(ctx context.Context, table string, id uuid.UUID) (*Job, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, table), id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("repair: job %s: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}
	return job, nil
}

// ArchiveYear resolves the partition year for an archived job via the
// direct index written at archive time.
func (r *repository) ArchiveYear(ctx context.Context, id uuid.UUID) (int, error) {
	var year int
	err := r.pool.QueryRow(ctx, `SELECT archive_year FROM job_archive_index WHERE job_id = $1`, id).Scan(&year)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("repair: archive index for %s: %w", id, shared.ErrNotFound)
		}
		return 0, err
	}
	return year, nil
}

// AppendAndMutate applies the patch and inserts the activity in one
// transaction; last_activity_at and created_at come from the same
// transaction clock so they are always equal for the newest entry.
func (r *repository) AppendAndMutate(ctx context.Context, jobID uuid.UUID, patch JobPatch, activity Activity) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		set := []string{"last_activity_at = NOW()"}
		args := []any{}
		pos := 1
		for col, val := range patch {
			if !patchColumns[col] {
				return fmt.Errorf("repair: patch column %q not allowed", col)
			}
			if val == nil {
				set = append(set, fmt.Sprintf("%s = NULL", col))
				continue
			}
			set = append(set, fmt.Sprintf("%s = $%d", col, pos))
			args = append(args, val)
			pos++
		}
		args = append(args, jobID)
		tag, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`,
			JobsCollection(SourceActive, 0), strings.Join(set, ", "), pos), args...)
		if err != nil {
			return fmt.Errorf("patch job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("repair: job %s: %w", jobID, shared.ErrNotFound)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, job_id, text, user_id, user_name, photos, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`, ActivitiesCollection(SourceActive, 0)),
			activity.ID, jobID, activity.Text, activity.UserID, activity.UserName, photosParam(activity.Photos))
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		return nil
	})
	return mapStoreErr(err)
}

// ListAfter returns one keyset page ordered by last_activity_at DESC with
// the activity id as deterministic tiebreaker.
func (r *repository) ListAfter(ctx context.Context, f ListFilter, cursor *shared.Cursor, limit int) ([]Job, error) {
	where, args := filterClauses(f)
	if cursor != nil {
		args = append(args, cursor.LastActivityAt, cursor.ID)
		where = append(where, fmt.Sprintf("(last_activity_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY last_activity_at DESC, id DESC LIMIT $%d`,
		jobColumns, JobsCollection(SourceActive, 0), whereClause(where), len(args))
	return r.queryJobs(ctx, query, args...)
}

// ListTopN returns the bounded window used for free-text search.
func (r *repository) ListTopN(ctx context.Context, f ListFilter, n int) ([]Job, error) {
	where, args := filterClauses(f)
	args = append(args, n)
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY last_activity_at DESC, id DESC LIMIT $%d`,
		jobColumns, JobsCollection(SourceActive, 0), whereClause(where), len(args))
	return r.queryJobs(ctx, query, args...)
}

// ListActivities returns the job's ledger, newest first, id as tiebreaker.
func (r *repository) ListActivities(ctx context.Context, jobID uuid.UUID, source Source, year int) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, job_id, text, user_id, user_name, photos, created_at
		FROM %s WHERE job_id = $1 ORDER BY created_at DESC, id DESC`,
		ActivitiesCollection(source, year)), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.JobID, &a.Text, &a.UserID, &a.UserName, &a.Photos, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListArchivable returns ids of closed jobs past the retention cutoff.
func (r *repository) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id FROM %s WHERE status = $1 AND closed_date IS NOT NULL AND closed_date < $2
		ORDER BY closed_date LIMIT $3`, JobsCollection(SourceActive, 0)),
		StatusClosed, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArchiveJob moves one closed job and its ledger into the year partition
// and records the partition in the archive index, all in one transaction.
func (r *repository) ArchiveJob(ctx context.Context, id uuid.UUID, year int) error {
	jobsArchive := JobsCollection(SourceArchive, year)
	actsArchive := ActivitiesCollection(SourceArchive, year)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS INCLUDING CONSTRAINTS)`,
			jobsArchive, JobsCollection(SourceActive, 0))); err != nil {
			return fmt.Errorf("create jobs partition: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS INCLUDING CONSTRAINTS)`,
			actsArchive, ActivitiesCollection(SourceActive, 0))); err != nil {
			return fmt.Errorf("create activities partition: %w", err)
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s) SELECT %s FROM %s WHERE id = $1`,
			jobsArchive, jobColumns, jobColumns, JobsCollection(SourceActive, 0)), id)
		if err != nil {
			return fmt.Errorf("copy job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("repair: job %s: %w", id, shared.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET is_archived = TRUE WHERE id = $1`, jobsArchive), id); err != nil {
			return fmt.Errorf("flag archived: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, job_id, text, user_id, user_name, photos, created_at)
			SELECT id, job_id, text, user_id, user_name, photos, created_at
			FROM %s WHERE job_id = $1`, actsArchive, ActivitiesCollection(SourceActive, 0)), id); err != nil {
			return fmt.Errorf("copy activities: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO job_archive_index (job_id, archive_year, archived_at) VALUES ($1, $2, NOW())
			 ON CONFLICT (job_id) DO UPDATE SET archive_year = EXCLUDED.archive_year`, id, year); err != nil {
			return fmt.Errorf("index archive year: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`,
			ActivitiesCollection(SourceActive, 0)), id); err != nil {
			return fmt.Errorf("delete activities: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`,
			JobsCollection(SourceActive, 0)), id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		return nil
	})
	return mapStoreErr(err)
}

func (r *repository) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func filterClauses(f ListFilter) ([]string, []any) {
	var where []string
	var args []any
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Department != nil {
		args = append(args, *f.Department)
		where = append(where, fmt.Sprintf("department = $%d", len(args)))
	}
	if f.AssigneeID != nil {
		args = append(args, *f.AssigneeID)
		where = append(where, fmt.Sprintf("assignee_id = $%d", len(args)))
	}
	return where, args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var arStatus string
	err := row.Scan(&j.ID, &j.Status, &j.Department, &j.AssigneeID, &j.AssigneeName,
		&j.CustomerName, &j.CustomerPhone, &j.Description, &j.LastActivityAt,
		&j.PickupDate, &j.ClosedDate, &j.IsArchived, &arStatus,
		&j.SalesDocID, &j.SalesDocNo, &j.SalesDocType, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.ARStatus = ARStatus(arStatus)
	return &j, nil
}

func photosParam(photos []string) []string {
	if photos == nil {
		return []string{}
	}
	return photos
}

// mapStoreErr classifies transaction failures: serialization and deadlock
// errors become ErrStoreConflict (safe to retry verbatim), domain errors
// pass through untouched.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) {
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
