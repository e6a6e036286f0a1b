package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ledgerd/services/registry"
)

func draftIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "draftID")))
	if err != nil {
		return uuid.Nil, errors.New("invalid draft id")
	}
	return id, nil
}

// ownerFrom resolves the editing context for draft operations. The header
// takes precedence over the query parameter; an empty owner is still a valid
// context (a single anonymous editor).
func ownerFrom(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get("X-Draft-Owner")); owner != "" {
		return owner
	}
	return strings.TrimSpace(r.URL.Query().Get("owner"))
}

func (a *API) handleOpenDraft(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.registry.OpenDraft(ctx, id, ownerFrom(r))
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"draft": draft})
}

func (a *API) handleGetResourceDraft(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.registry.GetDraftFor(ctx, id, ownerFrom(r))
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"draft": draft})
}

func (a *API) handleUpdateResourceDraft(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Payload     map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.registry.GetDraftFor(ctx, id, ownerFrom(r))
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	draft, err = a.registry.UpdateDraft(ctx, draft.ID, registry.DraftFields{
		Name:        req.Name,
		Description: req.Description,
		Payload:     req.Payload,
	})
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"draft": draft})
}

func (a *API) handleDiscardResourceDraft(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.registry.GetDraftFor(ctx, id, ownerFrom(r))
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	if err := a.registry.DiscardDraft(ctx, draft.ID); err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleOpenNewDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind        string         `json:"kind"`
		Group       string         `json:"group"`
		Owner       string         `json:"owner"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Payload     map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.registry.OpenNewDraft(ctx, registry.NewDraft{
		Kind:  registry.Kind(strings.TrimSpace(req.Kind)),
		Group: req.Group,
		Owner: req.Owner,
		Fields: registry.DraftFields{
			Name:        req.Name,
			Description: req.Description,
			Payload:     req.Payload,
		},
	})
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"draft": draft})
}

func (a *API) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	id, err := draftIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.registry.GetDraft(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"draft": draft})
}

func (a *API) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	id, err := draftIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Payload     map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.registry.UpdateDraft(ctx, id, registry.DraftFields{
		Name:        req.Name,
		Description: req.Description,
		Payload:     req.Payload,
	})
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"draft": draft})
}

func (a *API) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	id, err := draftIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.registry.DiscardDraft(ctx, id); err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handlePublishDraft(w http.ResponseWriter, r *http.Request) {
	id, err := draftIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	resource, err := a.registry.PublishDraft(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	a.publishJSON(ctx, draftPublishedTopic, map[string]any{
		"draft_id":    id,
		"resource_id": resource.ID,
		"kind":        resource.Kind,
		"snapshot":    resource.Snapshot,
	})
	a.publishJSON(ctx, resourceCommittedTopic, map[string]any{
		"resource_id": resource.ID,
		"kind":        resource.Kind,
		"snapshot":    resource.Snapshot,
		"name":        resource.Name,
	})

	respondJSON(w, http.StatusOK, map[string]any{"resource": resource})
}
