package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/qrhub/internal/workflow"
)

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(wf *workflow.Workflow, sseHandler http.Handler) chi.Router {
	h := NewHandler(wf)

	r := chi.NewRouter()
	r.Use(BodyLimit(maxBodyBytes))

	r.Get("/kinds", h.Kinds)

	r.Group(func(r chi.Router) {
		r.Use(NoStore)

		// Form.
		r.Get("/form", h.GetForm)
		r.Put("/form/kind", h.SelectKind)
		r.Patch("/form/fields", h.SetFields)
		r.Post("/form/fields/{field}/blur", h.BlurField)

		// Generation and display.
		r.Post("/generate", h.Generate)
		r.Get("/display", h.GetDisplay)
		r.Get("/notices", h.Notices)

		// History.
		r.Get("/history", h.ListHistory)
		r.Delete("/history", h.ClearHistory)
		r.Get("/history/export", h.ExportHistory)
		r.Post("/history/import", h.ImportHistory)
		r.Post("/history/{id}/load", h.LoadRecord)

		// Preferences.
		r.Get("/theme", h.GetTheme)
		r.Put("/theme", h.SetTheme)
	})

	// The PNG carries an ETag so clients may revalidate.
	r.Get("/display.png", h.DisplayPNG)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
