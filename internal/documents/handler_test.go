package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

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

func TestIssueReleasesIdempotencyKeyOnConflict(t *testing.T) {
	c := newTestCoordinator(newMemoryRepo(), &recorderStub{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, c, nil)
	guard := newGuardStub()
	h.idempotency = guard
	r := chi.NewRouter()
	r.Post("/documents", h.Issue)

	jobID := uuid.New()
	issueFor(t, c, KindQuotation, jobID)

	body := fmt.Sprintf(`{"kind":"QUOTATION","job_id":"%s","items":[{"description":"Rewind","quantity":1,"unit_price":100}]}`, jobID)
	post := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		req = req.WithContext(shared.ContextWithActor(req.Context(), officeStaff))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post("doc-retry-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Duplicate Active Document")
	assert.NotContains(t, guard.keys, "doc-retry-1", "failed issuance releases the key")

	// The verbatim retry surfaces the same duplicate conflict, not a burnt
	// idempotency key.
	rec = post("doc-retry-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Duplicate Active Document")
}
