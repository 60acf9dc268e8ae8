package repair

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixflow-erp/fixflow/internal/rbac"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// memoryRepo is an in-memory Repository with the same atomicity contract as
// the SQL implementation: patch and activity land together with one clock.
type memoryRepo struct {
	mu          sync.Mutex
	clock       time.Time
	jobs        map[uuid.UUID]*Job
	activities  map[uuid.UUID][]Activity
	archived    map[int]map[uuid.UUID]*Job
	archivedAct map[int]map[uuid.UUID][]Activity
	index       map[uuid.UUID]int

	appendErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		clock:       time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		jobs:        make(map[uuid.UUID]*Job),
		activities:  make(map[uuid.UUID][]Activity),
		archived:    make(map[int]map[uuid.UUID]*Job),
		archivedAct: make(map[int]map[uuid.UUID][]Activity),
		index:       make(map[uuid.UUID]int),
	}
}

func (m *memoryRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *memoryRepo) Create(_ context.Context, job Job, intake Activity) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	job.LastActivityAt = now
	job.CreatedAt = now
	intake.CreatedAt = now
	m.jobs[job.ID] = &job
	m.activities[job.ID] = append(m.activities[job.ID], intake)
	out := job
	return &out, nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("repair: job %s: %w", id, shared.ErrNotFound)
	}
	out := *job
	return &out, nil
}

func (m *memoryRepo) GetArchived(_ context.Context, id uuid.UUID, year int) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.archived[year][id]; ok {
		out := *job
		return &out, nil
	}
	return nil, fmt.Errorf("repair: job %s: %w", id, shared.ErrNotFound)
}

func (m *memoryRepo) ArchiveYear(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	year, ok := m.index[id]
	if !ok {
		return 0, fmt.Errorf("repair: archive index for %s: %w", id, shared.ErrNotFound)
	}
	return year, nil
}

func (m *memoryRepo) AppendAndMutate(_ context.Context, jobID uuid.UUID, patch JobPatch, activity Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("repair: job %s: %w", jobID, shared.ErrNotFound)
	}
	now := m.tick()
	applyPatch(job, patch)
	job.LastActivityAt = now
	activity.CreatedAt = now
	m.activities[jobID] = append(m.activities[jobID], activity)
	return nil
}

func applyPatch(job *Job, patch JobPatch) {
	for col, val := range patch {
		switch col {
		case "status":
			job.Status = val.(Status)
		case "department":
			job.Department = val.(shared.Department)
		case "assignee_id":
			job.AssigneeID = optString(val)
		case "assignee_name":
			job.AssigneeName = optString(val)
		case "pickup_date":
			job.PickupDate = optTime(val)
		case "closed_date":
			job.ClosedDate = optTime(val)
		case "sales_doc_id":
			if val == nil {
				job.SalesDocID = nil
			} else {
				id := val.(uuid.UUID)
				job.SalesDocID = &id
			}
		case "sales_doc_no":
			job.SalesDocNo = optString(val)
		case "sales_doc_type":
			job.SalesDocType = optString(val)
		case "ar_status":
			job.ARStatus = ARStatus(val.(string))
		}
	}
}

func optString(val any) *string {
	if val == nil {
		return nil
	}
	s := val.(string)
	return &s
}

func optTime(val any) *time.Time {
	if val == nil {
		return nil
	}
	t := val.(time.Time)
	return &t
}

func (m *memoryRepo) ListAfter(_ context.Context, f ListFilter, cursor *shared.Cursor, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := m.sortedJobs(f)
	var out []Job
	for _, job := range sorted {
		if cursor != nil {
			if !job.LastActivityAt.Before(cursor.LastActivityAt) &&
				!(job.LastActivityAt.Equal(cursor.LastActivityAt) && job.ID.String() < cursor.ID.String()) {
				continue
			}
		}
		out = append(out, *job)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) ListTopN(_ context.Context, f ListFilter, n int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := m.sortedJobs(f)
	var out []Job
	for _, job := range sorted {
		out = append(out, *job)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) sortedJobs(f ListFilter) []*Job {
	var all []*Job
	for _, job := range m.jobs {
		if f.Status != nil && job.Status != *f.Status {
			continue
		}
		if f.Department != nil && job.Department != *f.Department {
			continue
		}
		if f.AssigneeID != nil && (job.AssigneeID == nil || *job.AssigneeID != *f.AssigneeID) {
			continue
		}
		all = append(all, job)
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && lessDesc(all[j], all[j-1]); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	return all
}

func lessDesc(a, b *Job) bool {
	if !a.LastActivityAt.Equal(b.LastActivityAt) {
		return a.LastActivityAt.After(b.LastActivityAt)
	}
	return a.ID.String() > b.ID.String()
}

func (m *memoryRepo) ListActivities(_ context.Context, jobID uuid.UUID, source Source, year int) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var acts []Activity
	if source == SourceArchive {
		acts = m.archivedAct[year][jobID]
	} else {
		acts = m.activities[jobID]
	}
	out := make([]Activity, len(acts))
	for i, a := range acts {
		out[len(acts)-1-i] = a
	}
	return out, nil
}

func (m *memoryRepo) ListArchivable(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, job := range m.jobs {
		if job.Status == StatusClosed && job.ClosedDate != nil && job.ClosedDate.Before(cutoff) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (m *memoryRepo) ArchiveJob(_ context.Context, id uuid.UUID, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("repair: job %s: %w", id, shared.ErrNotFound)
	}
	if m.archived[year] == nil {
		m.archived[year] = make(map[uuid.UUID]*Job)
		m.archivedAct[year] = make(map[uuid.UUID][]Activity)
	}
	moved := *job
	moved.IsArchived = true
	m.archived[year][id] = &moved
	m.archivedAct[year][id] = m.activities[id]
	m.index[id] = year
	delete(m.jobs, id)
	delete(m.activities, id)
	return nil
}

func newTestService(repo Repository) *Service {
	policy := rbac.NewPolicy()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, NewEngine(policy), policy, stubDirectory{}, logger, nil)
}

type stubDirectory struct {
	workers map[string]*Worker
}

func (s stubDirectory) Lookup(_ context.Context, id string) (*Worker, error) {
	if w, ok := s.workers[id]; ok {
		return w, nil
	}
	return nil, shared.ErrNotFound
}

func seedJob(t *testing.T, svc *Service, dept shared.Department) *Job {
	t.Helper()
	job, err := svc.Create(context.Background(), CreateJobRequest{
		CustomerName:  "Somchai Transformer Co.",
		CustomerPhone: "081-111-2222",
		Description:   "30kW motor rewind",
		Department:    dept,
	}, officeStaff)
	require.NoError(t, err)
	return job
}

func TestCreateOpensJobWithIntakeActivity(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	job := seedJob(t, svc, shared.DepartmentWinding)
	assert.Equal(t, StatusReceived, job.Status)

	acts, err := svc.Activities(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "Job received into WINDING department", acts[0].Text)
	assert.Equal(t, officeStaff.ID, acts[0].UserID)
	assert.True(t, acts[0].CreatedAt.Equal(job.LastActivityAt),
		"intake activity and last_activity_at share one clock")
}

func TestCreateRejectsUnknownDepartment(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Create(context.Background(), CreateJobRequest{
		CustomerName: "X", CustomerPhone: "1", Department: "PAINTING",
	}, officeStaff)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestListPagesForwardWithoutOverlap(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	for i := 0; i < 45; i++ {
		seedJob(t, svc, shared.DepartmentWinding)
	}

	seen := make(map[uuid.UUID]bool)
	var cursor string
	pages := 0
	for {
		page, err := svc.List(context.Background(), ListJobsRequest{Limit: 20, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, job := range page.Jobs {
			assert.Falsef(t, seen[job.ID], "job %s appeared twice", job.ID)
			seen[job.ID] = true
		}
		if page.IsLast {
			assert.Empty(t, page.NextCursor)
			break
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 45)
}

func TestListOrdersByRecentActivity(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	first := seedJob(t, svc, shared.DepartmentWinding)
	second := seedJob(t, svc, shared.DepartmentWinding)

	// Touch the older job; it must move to the top of the feed.
	_, err := svc.AppendNote(context.Background(), first.ID, AppendNoteRequest{Text: "Inspection done"}, officeStaff)
	require.NoError(t, err)

	page, err := svc.List(context.Background(), ListJobsRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 2)
	assert.Equal(t, first.ID, page.Jobs[0].ID)
	assert.Equal(t, second.ID, page.Jobs[1].ID)
}

func TestListSearchDisablesPagination(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	target := seedJob(t, svc, shared.DepartmentWinding)
	for i := 0; i < 30; i++ {
		_, err := svc.Create(context.Background(), CreateJobRequest{
			CustomerName:  "Krungthep Pumps Ltd.",
			CustomerPhone: "081-333-4444",
			Department:    shared.DepartmentMachine,
		}, officeStaff)
		require.NoError(t, err)
	}

	page, err := svc.List(context.Background(), ListJobsRequest{Search: "somchai", Limit: 5})
	require.NoError(t, err)
	assert.True(t, page.IsLast)
	assert.Empty(t, page.NextCursor)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, target.ID, page.Jobs[0].ID)
}

func TestListRejectsMalformedCursor(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.List(context.Background(), ListJobsRequest{Cursor: "not-a-cursor"})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestApplyTriggerRecordsLedgerAtomically(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	job := seedJob(t, svc, shared.DepartmentWinding)
	require.NoError(t, repo.AppendAndMutate(context.Background(), job.ID,
		JobPatch{"status": StatusInProgress}, Activity{ID: uuid.New(), JobID: job.ID, Text: "started"}))

	updated, err := svc.ApplyTrigger(context.Background(), job.ID,
		TransitionRequest{Trigger: string(TriggerRequestQuotation)}, officeStaff)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingQuotation, updated.Status)

	acts, err := svc.Activities(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quotation requested\nStatus changed: IN_PROGRESS -> WAITING_QUOTATION", acts[0].Text)
	assert.True(t, acts[0].CreatedAt.Equal(updated.LastActivityAt),
		"last_activity_at equals the newest ledger entry")
}

func TestApplyTriggerRejectionLeavesNoTrace(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	job := seedJob(t, svc, shared.DepartmentWinding)

	before, err := svc.Activities(context.Background(), job.ID)
	require.NoError(t, err)

	_, err = svc.ApplyTrigger(context.Background(), job.ID,
		TransitionRequest{Trigger: string(TriggerCustomerApprove)}, officeStaff)
	assert.True(t, errors.Is(err, shared.ErrInvalidTransition))

	after, err := svc.Activities(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after), "rejected trigger writes nothing")

	current, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, current.Status)
}

func TestApplyTriggerStoreFailureSurfaces(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	job := seedJob(t, svc, shared.DepartmentWinding)
	require.NoError(t, repo.AppendAndMutate(context.Background(), job.ID,
		JobPatch{"status": StatusInProgress}, Activity{ID: uuid.New(), JobID: job.ID, Text: "started"}))

	repo.appendErr = shared.ErrStoreConflict
	_, err := svc.ApplyTrigger(context.Background(), job.ID,
		TransitionRequest{Trigger: string(TriggerRequestQuotation)}, officeStaff)
	assert.True(t, errors.Is(err, shared.ErrStoreConflict))
}

func TestApplyTriggerReassignLooksUpWorker(t *testing.T) {
	repo := newMemoryRepo()
	policy := rbac.NewPolicy()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := stubDirectory{workers: map[string]*Worker{
		"w-1": {ID: "w-1", Name: "Dang", Department: shared.DepartmentWinding, Active: true},
	}}
	svc := NewService(repo, NewEngine(policy), policy, dir, logger, nil)
	job := seedJob(t, svc, shared.DepartmentWinding)

	updated, err := svc.ApplyTrigger(context.Background(), job.ID,
		TransitionRequest{Trigger: string(TriggerReassignWorker), WorkerID: "w-1"}, admin)
	require.NoError(t, err)
	require.NotNil(t, updated.AssigneeName)
	assert.Equal(t, "Dang", *updated.AssigneeName)

	_, err = svc.ApplyTrigger(context.Background(), job.ID,
		TransitionRequest{Trigger: string(TriggerReassignWorker), WorkerID: "ghost"}, admin)
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	_, err = svc.ApplyTrigger(context.Background(), job.ID,
		TransitionRequest{Trigger: string(TriggerReassignWorker)}, admin)
	assert.True(t, errors.Is(err, shared.ErrValidation), "worker_id required")
}

func TestAppendNoteAutoEscalatesFieldNote(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	job := seedJob(t, svc, shared.DepartmentWinding)
	require.NoError(t, repo.AppendAndMutate(context.Background(), job.ID,
		JobPatch{"status": StatusInProgress}, Activity{ID: uuid.New(), JobID: job.ID, Text: "started"}))

	updated, err := svc.AppendNote(context.Background(), job.ID,
		AppendNoteRequest{Text: "Stator burnt, needs full rewind"}, technician)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingQuotation, updated.Status)

	acts, err := svc.Activities(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Status changed: IN_PROGRESS -> WAITING_QUOTATION\nStator burnt, needs full rewind", acts[0].Text)
}

func TestCloseWithDocument(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	job := seedJob(t, svc, shared.DepartmentWinding)
	require.NoError(t, repo.AppendAndMutate(context.Background(), job.ID,
		JobPatch{"status": StatusDone}, Activity{ID: uuid.New(), JobID: job.ID, Text: "done"}))

	docID := uuid.New()
	req := CloseJobRequest{SalesDocID: docID.String(), SalesDocNo: "INV-202608-0001", SalesDocType: "TAX_INVOICE"}

	_, err := svc.CloseWithDocument(context.Background(), job.ID, req, technician)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized), "closing is an office capability")

	closed, err := svc.CloseWithDocument(context.Background(), job.ID, req, officeStaff)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.SalesDocID)
	assert.Equal(t, docID, *closed.SalesDocID)
	assert.NotNil(t, closed.PickupDate, "pickup date is stamped when missing")
	assert.NotNil(t, closed.ClosedDate)

	acts, err := svc.Activities(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Job closed with TAX_INVOICE INV-202608-0001\nStatus changed: DONE -> CLOSED", acts[0].Text)

	_, err = svc.CloseWithDocument(context.Background(), job.ID, req, officeStaff)
	assert.True(t, errors.Is(err, shared.ErrInvalidTransition), "closed jobs cannot close again")
}

func TestGetFallsBackToArchive(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	indexed := seedJob(t, svc, shared.DepartmentWinding)
	unindexed := seedJob(t, svc, shared.DepartmentWinding)

	require.NoError(t, repo.ArchiveJob(context.Background(), indexed.ID, 2024))
	require.NoError(t, repo.ArchiveJob(context.Background(), unindexed.ID, 2025))
	// Simulate a job archived before the index existed.
	delete(repo.index, unindexed.ID)

	viaIndex, err := svc.Get(context.Background(), indexed.ID)
	require.NoError(t, err)
	assert.True(t, viaIndex.IsArchived)

	viaProbe, err := svc.Get(context.Background(), unindexed.ID)
	require.NoError(t, err)
	assert.True(t, viaProbe.IsArchived)

	acts, err := svc.Activities(context.Background(), indexed.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, acts, "archived ledger stays readable")

	_, err = svc.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestSweepArchivePartitionsByCloseYear(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	old := seedJob(t, svc, shared.DepartmentWinding)
	closedAt := time.Date(2024, 11, 3, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AppendAndMutate(context.Background(), old.ID,
		JobPatch{"status": StatusClosed, "closed_date": closedAt},
		Activity{ID: uuid.New(), JobID: old.ID, Text: "closed"}))

	fresh := seedJob(t, svc, shared.DepartmentWinding)

	moved, err := svc.SweepArchive(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	assert.Equal(t, 2024, repo.index[old.ID], "partition year follows the close date")
	_, stillActive := repo.jobs[fresh.ID]
	assert.True(t, stillActive)
}
