package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ledgerd/services/registry"
)

func referenceIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "referenceID")))
	if err != nil {
		return uuid.Nil, errors.New("invalid reference id")
	}
	return id, nil
}

func (a *API) handleBindReference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID      uuid.UUID `json:"owner_id"`
		TargetID     uuid.UUID `json:"target_id"`
		Relation     string    `json:"relation"`
		SubSelection string    `json:"sub_selection"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	ref, target, err := a.registry.Bind(ctx, registry.BindRequest{
		OwnerID:      req.OwnerID,
		TargetID:     req.TargetID,
		Relation:     strings.TrimSpace(req.Relation),
		SubSelection: strings.TrimSpace(req.SubSelection),
	})
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	a.publishJSON(ctx, referenceBoundTopic, map[string]any{
		"reference_id":    ref.ID,
		"owner_id":        ref.OwnerID,
		"target_id":       ref.TargetID,
		"target_snapshot": ref.TargetSnapshot,
		"relation":        ref.Relation,
	})

	respondJSON(w, http.StatusCreated, map[string]any{
		"reference": ref,
		"target":    target,
	})
}

func (a *API) handleGetReference(w http.ResponseWriter, r *http.Request) {
	id, err := referenceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	ref, err := a.registry.GetReference(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"reference": ref})
}

func (a *API) handleResolveReference(w http.ResponseWriter, r *http.Request) {
	id, err := referenceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	snapshot, err := a.registry.Resolve(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"snapshot": snapshot})
}

func (a *API) handleSyncReference(w http.ResponseWriter, r *http.Request) {
	id, err := referenceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	ref, warning, err := a.registry.Sync(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	event := map[string]any{
		"reference_id":    ref.ID,
		"owner_id":        ref.OwnerID,
		"target_id":       ref.TargetID,
		"target_snapshot": ref.TargetSnapshot,
	}
	if warning != nil {
		event["sub_selection_lost"] = warning.SubSelection
	}
	a.publishJSON(ctx, referenceSyncedTopic, event)

	body := map[string]any{"reference": ref}
	if warning != nil {
		body["warning"] = warning
	}
	respondJSON(w, http.StatusOK, body)
}

func (a *API) handleDeleteReference(w http.ResponseWriter, r *http.Request) {
	id, err := referenceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.registry.DeleteReference(ctx, id); err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleListResourceReferences(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var refs []registry.Reference
	if r.URL.Query().Get("direction") == "inbound" {
		refs, err = a.registry.ListReferencesTo(ctx, id)
	} else {
		refs, err = a.registry.ListReferences(ctx, id)
	}
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"references": refs})
}
