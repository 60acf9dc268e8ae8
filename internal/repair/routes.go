package repair

import (
	"github.com/go-chi/chi/v5"

	"github.com/fixflow-erp/fixflow/internal/rbac"
)

// MountRoutes attaches the jobs API under the router's current prefix.
func (h *Handler) MountRoutes(r chi.Router, mw rbac.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireActor)
		r.Get("/jobs", h.List)
		r.Post("/jobs", h.Create)
		r.Get("/jobs/{id}", h.Get)
		r.Get("/jobs/{id}/activities", h.Activities)
		r.Post("/jobs/{id}/activities", h.AppendNote)
		r.Post("/jobs/{id}/transitions", h.ApplyTrigger)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAction(rbac.ActionCloseWithDocument))
		r.Post("/jobs/{id}/close", h.Close)
	})
}
