package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/resources/{kind}", func(r chi.Router) {
			r.Get("/", a.handleListResources)
			r.Post("/", a.handleCreateResource)

			r.Route("/{resourceID}", func(r chi.Router) {
				r.Get("/", a.handleGetResource)
				r.Put("/", a.handleCommitResource)
				r.Delete("/", a.handleDeleteResource)

				r.Get("/snapshots", a.handleListSnapshots)
				r.Get("/snapshots/{snapshotID}", a.handleGetSnapshot)

				r.Post("/draft", a.handleOpenDraft)
				r.Get("/draft", a.handleGetResourceDraft)
				r.Put("/draft", a.handleUpdateResourceDraft)
				r.Delete("/draft", a.handleDiscardResourceDraft)

				r.Get("/references", a.handleListResourceReferences)

				r.Post("/tags/{tagName}", a.handleTagResource)
				r.Delete("/tags/{tagName}", a.handleUntagResource)
				r.Get("/tags", a.handleListResourceTags)

				r.Post("/upload", a.handleArtifactUpload)
				r.Get("/download", a.handleArtifactDownload)
			})
		})

		r.Post("/drafts", a.handleOpenNewDraft)
		r.Route("/drafts/{draftID}", func(r chi.Router) {
			r.Get("/", a.handleGetDraft)
			r.Put("/", a.handleUpdateDraft)
			r.Delete("/", a.handleDiscardDraft)
			r.Post("/publish", a.handlePublishDraft)
		})

		r.Post("/references", a.handleBindReference)
		r.Route("/references/{referenceID}", func(r chi.Router) {
			r.Get("/", a.handleGetReference)
			r.Get("/resolve", a.handleResolveReference)
			r.Post("/sync", a.handleSyncReference)
			r.Delete("/", a.handleDeleteReference)
		})

		r.Get("/tags", a.handleListTags)
		r.Post("/tags", a.handleCreateTag)
	})

	return r, nil
}
