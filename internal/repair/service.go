package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fixflow-erp/fixflow/internal/observability"
	"github.com/fixflow-erp/fixflow/internal/rbac"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// WorkerDirectory resolves workshop workers from the external profile
// boundary.
type WorkerDirectory interface {
	Lookup(ctx context.Context, id string) (*Worker, error)
}

// Service orchestrates the transition engine, the activity ledger and the
// archive router. No state is held between operations; every mutation
// re-fetches the job before deciding.
type Service struct {
	repo    Repository
	engine  *Engine
	ledger  *Ledger
	policy  *rbac.Policy
	workers WorkerDirectory
	logger  *slog.Logger
	metrics *observability.Metrics
	probes  singleflight.Group
}

// NewService constructs the job service.
func NewService(repo Repository, engine *Engine, policy *rbac.Policy, workers WorkerDirectory, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		repo:    repo,
		engine:  engine,
		ledger:  NewLedger(repo),
		policy:  policy,
		workers: workers,
		logger:  logger,
		metrics: metrics,
	}
}

// Create opens a new job in RECEIVED together with its intake activity.
func (s *Service) Create(ctx context.Context, req CreateJobRequest, actor shared.Actor) (*Job, error) {
	if !shared.ValidDepartment(req.Department) {
		return nil, fmt.Errorf("%w: unknown department %q", shared.ErrValidation, req.Department)
	}
	job := Job{
		ID:            uuid.New(),
		Status:        StatusReceived,
		Department:    req.Department,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Description:   req.Description,
	}
	intake := Activity{
		ID:       uuid.New(),
		JobID:    job.ID,
		Text:     fmt.Sprintf("Job received into %s department", req.Department),
		UserID:   actor.ID,
		UserName: actor.DisplayName,
	}
	created, err := s.repo.Create(ctx, job, intake)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job created", slog.String("job", created.ID.String()), slog.String("department", string(req.Department)))
	return created, nil
}

// Get fetches a job, falling back to the year-partitioned archive: first
// the direct archive index, then a bounded linear probe of recent years.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, _, _, err := s.locate(ctx, id)
	return job, err
}

// Activities returns the job's ledger, newest first.
func (s *Service) Activities(ctx context.Context, id uuid.UUID) ([]Activity, error) {
	_, source, year, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListActivities(ctx, id, source, year)
}

func (s *Service) locate(ctx context.Context, id uuid.UUID) (*Job, Source, int, error) {
	job, err := s.repo.Get(ctx, id)
	if err == nil {
		return job, SourceActive, 0, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, SourceActive, 0, err
	}

	// Concurrent lookups of the same archived job collapse into one probe.
	type located struct {
		job  *Job
		year int
	}
	v, err, _ := s.probes.Do(id.String(), func() (any, error) {
		if year, err := s.repo.ArchiveYear(ctx, id); err == nil {
			job, err := s.repo.GetArchived(ctx, id, year)
			if err != nil {
				return nil, err
			}
			return located{job: job, year: year}, nil
		}
		for _, year := range ProbeYears(nowFunc()) {
			s.metrics.ObserveArchiveProbe()
			job, err := s.repo.GetArchived(ctx, id, year)
			if err == nil {
				return located{job: job, year: year}, nil
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return nil, err
			}
		}
		return nil, fmt.Errorf("repair: job %s: %w", id, shared.ErrNotFound)
	})
	if err != nil {
		return nil, SourceActive, 0, err
	}
	loc := v.(located)
	return loc.job, SourceArchive, loc.year, nil
}

// List returns one forward-only page. A free-text term disables pagination:
// a bounded top-N window is fetched and filtered in memory instead.
func (s *Service) List(ctx context.Context, req ListJobsRequest) (*JobPage, error) {
	filter, err := buildFilter(req)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	if term := strings.TrimSpace(req.Search); term != "" {
		window, err := s.repo.ListTopN(ctx, filter, searchWindow)
		if err != nil {
			return nil, err
		}
		matched := make([]Job, 0, len(window))
		for _, job := range window {
			if matchesSearch(job, term) {
				matched = append(matched, job)
			}
		}
		return &JobPage{Jobs: matched, IsLast: true}, nil
	}

	var cursor *shared.Cursor
	if req.Cursor != "" {
		c, err := shared.DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = &c
	}
	jobs, err := s.repo.ListAfter(ctx, filter, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &JobPage{IsLast: true}
	if len(jobs) > limit {
		jobs = jobs[:limit]
		last := jobs[len(jobs)-1]
		page.NextCursor = shared.Cursor{LastActivityAt: last.LastActivityAt, ID: last.ID}.Encode()
		page.IsLast = false
	}
	page.Jobs = jobs
	return page, nil
}

// ApplyTrigger validates and applies one explicit transition, recording the
// outcome through the ledger in a single atomic unit.
func (s *Service) ApplyTrigger(ctx context.Context, jobID uuid.UUID, req TransitionRequest, actor shared.Actor) (*Job, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	in := TransitionInput{
		Trigger:       Trigger(req.Trigger),
		WithCost:      req.WithCost,
		Reason:        req.Reason,
		NewDepartment: shared.Department(req.NewDepartment),
	}
	if in.Trigger == TriggerReassignWorker {
		if req.WorkerID == "" {
			return nil, fmt.Errorf("%w: worker_id required", shared.ErrValidation)
		}
		worker, err := s.workers.Lookup(ctx, req.WorkerID)
		if err != nil {
			return nil, fmt.Errorf("lookup worker: %w", err)
		}
		in.Worker = worker
	}

	t, err := s.engine.Apply(job, in, actor)
	if err != nil {
		s.metrics.ObserveTransition(req.Trigger, "rejected")
		return nil, err
	}
	if err := s.ledger.Append(ctx, jobID, t.Patch, t.ActivityText, t.Photos, actor); err != nil {
		s.metrics.ObserveTransition(req.Trigger, "store_error")
		return nil, err
	}
	s.metrics.ObserveTransition(req.Trigger, "applied")
	s.logger.Info("transition applied",
		slog.String("job", jobID.String()),
		slog.String("trigger", req.Trigger),
		slog.String("from", string(job.Status)),
		slog.String("to", string(t.NewStatus)))
	return s.repo.Get(ctx, jobID)
}

// AppendNote appends a field note, auto-escalating an in-progress job to
// WAITING_QUOTATION when the note comes from outside the office.
func (s *Service) AppendNote(ctx context.Context, jobID uuid.UUID, req AppendNoteRequest, actor shared.Actor) (*Job, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	t, err := s.engine.ApplyNote(job, req.Text, req.Photos, actor)
	if err != nil {
		s.metrics.ObserveTransition(string(TriggerAppendNote), "rejected")
		return nil, err
	}
	if err := s.ledger.Append(ctx, jobID, t.Patch, t.ActivityText, t.Photos, actor); err != nil {
		s.metrics.ObserveTransition(string(TriggerAppendNote), "store_error")
		return nil, err
	}
	s.metrics.ObserveTransition(string(TriggerAppendNote), "applied")
	return s.repo.Get(ctx, jobID)
}

// CloseWithDocument closes a job against its final billing document.
func (s *Service) CloseWithDocument(ctx context.Context, jobID uuid.UUID, req CloseJobRequest, actor shared.Actor) (*Job, error) {
	if !s.policy.Allow(rbac.ActionCloseWithDocument, actor) {
		return nil, fmt.Errorf("%w: closing requires office role", shared.ErrUnauthorized)
	}
	docID, err := uuid.Parse(req.SalesDocID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed sales_doc_id", shared.ErrValidation)
	}
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, &TransitionError{Current: job.Status, Trigger: "CLOSE_WITH_DOCUMENT"}
	}
	if job.Status != StatusDone && job.Status != StatusWaitingPickup {
		return nil, &TransitionError{Current: job.Status, Trigger: "CLOSE_WITH_DOCUMENT"}
	}
	now := nowFunc()
	patch := JobPatch{
		"status":         StatusClosed,
		"closed_date":    now,
		"sales_doc_id":   docID,
		"sales_doc_no":   req.SalesDocNo,
		"sales_doc_type": req.SalesDocType,
	}
	if job.PickupDate == nil {
		patch["pickup_date"] = now
	}
	text := fmt.Sprintf("Job closed with %s %s\nStatus changed: %s -> %s",
		req.SalesDocType, req.SalesDocNo, job.Status, StatusClosed)
	if err := s.ledger.Append(ctx, jobID, patch, text, nil, actor); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, jobID)
}

// SweepArchive moves closed jobs past the cutoff into their year partitions.
// Each job moves in its own transaction; a failure on one job does not stop
// the sweep.
func (s *Service) SweepArchive(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ids, err := s.repo.ListArchivable(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, id := range ids {
		job, err := s.repo.Get(ctx, id)
		if err != nil {
			s.logger.Warn("sweep skip", slog.String("job", id.String()), slog.Any("error", err))
			continue
		}
		year := nowFunc().Year()
		if job.ClosedDate != nil {
			year = ArchiveYearFor(*job.ClosedDate)
		}
		if err := s.repo.ArchiveJob(ctx, id, year); err != nil {
			s.logger.Warn("sweep archive failed", slog.String("job", id.String()), slog.Any("error", err))
			continue
		}
		archived++
	}
	return archived, nil
}

func buildFilter(req ListJobsRequest) (ListFilter, error) {
	var f ListFilter
	if req.Status != "" {
		st := Status(req.Status)
		f.Status = &st
	}
	if req.Department != "" {
		d := shared.Department(req.Department)
		if !shared.ValidDepartment(d) {
			return f, fmt.Errorf("%w: unknown department %q", shared.ErrValidation, d)
		}
		f.Department = &d
	}
	if req.AssigneeID != "" {
		f.AssigneeID = &req.AssigneeID
	}
	return f, nil
}
