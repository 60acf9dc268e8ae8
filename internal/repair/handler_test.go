package repair

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

// guardStub keeps claimed keys in memory.
type guardStub struct {
	keys map[string]string
}

func newGuardStub() *guardStub {
	return &guardStub{keys: make(map[string]string)}
}

func (g *guardStub) CheckAndInsert(_ context.Context, key, scope string) error {
	if _, ok := g.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	g.keys[key] = scope
	return nil
}

func (g *guardStub) Delete(_ context.Context, key string) error {
	delete(g.keys, key)
	return nil
}

func newHandlerHarness(t *testing.T) (*Service, *guardStub, chi.Router) {
	t.Helper()
	svc := newTestService(newMemoryRepo())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, nil)
	guard := newGuardStub()
	h.idempotency = guard
	r := chi.NewRouter()
	r.Post("/jobs/{id}/transitions", h.ApplyTrigger)
	return svc, guard, r
}

func postTransition(r chi.Router, jobID string, body string, key string, actor shared.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID+"/transitions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyKeyReleasedOnRejectedTransition(t *testing.T) {
	svc, guard, r := newHandlerHarness(t)
	job := seedJob(t, svc, shared.DepartmentWinding)

	// REQUEST_QUOTATION is not valid from RECEIVED; the submission fails
	// after the key was claimed.
	body := `{"trigger":"REQUEST_QUOTATION"}`
	rec := postTransition(r, job.ID.String(), body, "retry-1", officeStaff)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Already Processed")
	assert.NotContains(t, guard.keys, "retry-1", "failed submissions release their key")

	// A verbatim retry reaches the engine again instead of bouncing off the
	// idempotency table.
	rec = postTransition(r, job.ID.String(), body, "retry-1", officeStaff)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Already Processed")
}

func TestIdempotencyKeyHeldAfterAcceptedTransition(t *testing.T) {
	svc, guard, r := newHandlerHarness(t)
	job := seedJob(t, svc, shared.DepartmentWinding)

	body := `{"trigger":"TRANSFER_DEPARTMENT","new_department":"MACHINE"}`
	rec := postTransition(r, job.ID.String(), body, "once-1", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, guard.keys, "once-1")

	rec = postTransition(r, job.ID.String(), body, "once-1", admin)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Already Processed")
}
