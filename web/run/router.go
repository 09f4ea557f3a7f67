package webapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func router(webapp *WebApp) http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/scans", webapp.listScans())
		r.Get("/scans/{id}", webapp.getScan())
		r.Get("/scans/{id}/files", webapp.listFiles())
		r.Get("/scans/{id}/aggregate", webapp.aggregate())
		r.Get("/scans/{id}/directories", webapp.listDirectories())
		r.Get("/scans/{id}/duplicates", webapp.listDuplicates())
		r.Get("/scans/{id}/diff/{other}", webapp.diffScans())
	})

	return r
}
