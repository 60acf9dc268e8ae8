package repair

import (
	"context"
	"errors"
	"fmt"
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

// Handler serves the jobs API.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validate    *validator.Validate
	idempotency idempotencyGuard
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	h := &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
	if idempotency != nil {
		h.idempotency = idempotency
	}
	return h
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	job, err := h.service.Create(r.Context(), req, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be 0..100")
			return
		}
		limit = n
	}
	page, err := h.service.List(r.Context(), ListJobsRequest{
		Status:     q.Get("status"),
		Department: q.Get("department"),
		AssigneeID: q.Get("assignee_id"),
		Search:     q.Get("q"),
		Cursor:     q.Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) Activities(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	activities, err := h.service.Activities(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, activities)
}

func (h *Handler) AppendNote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	var req AppendNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key, ok := h.claimIdempotency(w, r, "repair.note")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	job, err := h.service.AppendNote(r.Context(), id, req, actor)
	if err != nil {
		h.releaseIdempotency(r.Context(), key)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) ApplyTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key, ok := h.claimIdempotency(w, r, "repair.transition")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	job, err := h.service.ApplyTrigger(r.Context(), id, req, actor)
	if err != nil {
		h.releaseIdempotency(r.Context(), key)
		h.logger.Warn("transition rejected",
			slog.String("job", id.String()),
			slog.String("trigger", req.Trigger),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	var req CloseJobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	job, err := h.service.CloseWithDocument(r.Context(), id, req, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed job id")
		return uuid.Nil, false
	}
	return id, true
}

// claimIdempotency dedupes user intent on mutating submissions: an
// Idempotency-Key header, when present, may be used at most once per scope.
// The returned key must be released if the guarded operation fails, so a
// verbatim retry stays possible.
func (h *Handler) claimIdempotency(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return "", true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, scope); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Already Processed", fmt.Sprintf("key %s already used", key))
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
