package documents

import (
	"github.com/go-chi/chi/v5"

	"github.com/fixflow-erp/fixflow/internal/rbac"
)

// MountRoutes attaches the documents API under the router's current prefix.
func (h *Handler) MountRoutes(r chi.Router, mw rbac.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireActor)
		r.Get("/documents", h.List)
		r.Get("/documents/{id}", h.Get)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAction(rbac.ActionIssueDocument))
		r.Post("/documents", h.Issue)
		r.Patch("/documents/{id}", h.Update)
		r.Post("/documents/{id}/send-review", h.SendReview)
		r.Post("/documents/{id}/mark-paid", h.MarkPaid)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAction(rbac.ActionCancelReplace))
		r.Post("/documents/{id}/cancel-replace", h.CancelReplace)
	})
}
