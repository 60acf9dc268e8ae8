package jobs

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixflow-erp/fixflow/internal/rbac"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

type enqueuerStub struct {
	payloads []ArchiveSweepPayload
}

func (e *enqueuerStub) EnqueueArchiveSweep(_ context.Context, payload ArchiveSweepPayload) (*asynq.TaskInfo, error) {
	e.payloads = append(e.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func sweepHarness() (*enqueuerStub, chi.Router) {
	stub := &enqueuerStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(nil, stub, logger)
	mw := rbac.Middleware{Policy: rbac.NewPolicy(), Logger: logger}
	r := chi.NewRouter()
	r.Route("/jobs", func(r chi.Router) {
		h.MountRoutes(r, mw)
	})
	return stub, r
}

func postSweep(r chi.Router, body string, actor shared.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/jobs/sweep", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSweepEnqueuesForAdmin(t *testing.T) {
	stub, r := sweepHarness()
	admin := shared.Actor{ID: "u-admin", Role: shared.RoleAdmin, Department: shared.DepartmentOffice}

	rec := postSweep(r, `{"retention_days":30,"limit":50}`, admin)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "task-1")
	require.Len(t, stub.payloads, 1)
	assert.Equal(t, 30, stub.payloads[0].RetentionDays)
	assert.Equal(t, 50, stub.payloads[0].Limit)
}

func TestSweepDefaultsOnEmptyBody(t *testing.T) {
	stub, r := sweepHarness()
	admin := shared.Actor{ID: "u-admin", Role: shared.RoleAdmin, Department: shared.DepartmentOffice}

	rec := postSweep(r, "", admin)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, stub.payloads, 1)
	assert.Zero(t, stub.payloads[0].RetentionDays, "handler defaults apply at execution time")
}

func TestSweepDeniedForNonAdmin(t *testing.T) {
	stub, r := sweepHarness()
	staff := shared.Actor{ID: "u-office", Role: shared.RoleStaff, Department: shared.DepartmentOffice}

	rec := postSweep(r, "{}", staff)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, stub.payloads)
}
