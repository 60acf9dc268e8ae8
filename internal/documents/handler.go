package documents

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fixflow-erp/fixflow/internal/platform/httpx"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// idempotencyGuard claims submission keys and releases them when the
// guarded operation fails.
type idempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

// Handler serves the documents API.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validate    *validator.Validate
	idempotency idempotencyGuard
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator, idempotency *shared.IdempotencyStore) *Handler {
	h := &Handler{
		logger:      logger,
		coordinator: coordinator,
		validate:    validator.New(),
	}
	if idempotency != nil {
		h.idempotency = idempotency
	}
	return h
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key, ok := h.claimIdempotency(w, r, "documents.issue")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.coordinator.Issue(r.Context(), req, actor)
	if err != nil {
		h.releaseIdempotency(r.Context(), key)
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) CancelReplace(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	var req CancelReplaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.coordinator.CancelAndReplace(r.Context(), id, req, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) SendReview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.coordinator.SendForReview(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.coordinator.MarkPaid(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	var req UpdateDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.coordinator.Update(r.Context(), id, req, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	doc, err := h.coordinator.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListDocumentsRequest{
		Kind:   q.Get("kind"),
		Status: q.Get("status"),
		JobID:  q.Get("job_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed limit")
			return
		}
		req.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed offset")
			return
		}
		req.Offset = n
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	docs, total, err := h.coordinator.List(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	perPage := req.Limit
	if perPage <= 0 {
		perPage = 50
	}
	page := req.Offset/perPage + 1
	httpx.JSON(w, http.StatusOK, map[string]any{
		"documents":  docs,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

// respondError surfaces duplicate-active conflicts with the blocking
// document attached so the caller can offer view or cancel-and-replace.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var dup *DuplicateActiveError
	if errors.As(err, &dup) && dup.Existing != nil {
		httpx.ProblemWith(w, http.StatusConflict, "Duplicate Active Document", dup.Error(), map[string]any{
			"existing_doc_id": dup.Existing.ID,
			"existing_doc_no": dup.Existing.DocNo,
			"existing_kind":   dup.Existing.Kind,
		})
		return
	}
	httpx.RespondError(w, err)
}

func (h *Handler) docID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed document id")
		return uuid.Nil, false
	}
	return id, true
}

// claimIdempotency claims the submitted key; the returned key must be
// released if the guarded operation fails, so a verbatim retry stays
// possible.
func (h *Handler) claimIdempotency(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return "", true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, scope); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Already Processed", "idempotency key already used")
			return "", false
		}
		httpx.RespondError(w, err)
		return "", false
	}
	return key, true
}

// releaseIdempotency returns a claimed key after a failed operation.
func (h *Handler) releaseIdempotency(ctx context.Context, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(ctx, key); err != nil {
		h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}
