package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.registry.CreateTag(ctx, req.Name); err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"name": strings.TrimSpace(req.Name)})
}

func (a *API) handleListTags(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	tags, err := a.registry.ListTags(ctx)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (a *API) handleTagResource(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "tagName"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.registry.TagResource(ctx, id, name); err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleUntagResource(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "tagName"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.registry.UntagResource(ctx, id, name); err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleListResourceTags(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	tags, err := a.registry.ListResourceTags(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"tags": tags})
}
