package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ledgerd/services/registry"
)

func kindParam(r *http.Request) (registry.Kind, error) {
	kind := strings.TrimSpace(chi.URLParam(r, "kind"))
	if !registry.ValidKind(kind) {
		return "", errors.New("unknown resource kind")
	}
	return registry.Kind(kind), nil
}

func resourceIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "resourceID")))
	if err != nil {
		return uuid.Nil, errors.New("invalid resource id")
	}
	return id, nil
}

func (a *API) handleListResources(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	items, err := a.registry.ListResources(ctx, kind)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"resources": items})
}

func (a *API) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Group       string         `json:"group"`
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

	resource, err := a.registry.CreateResource(ctx, registry.NewResource{
		Kind:        kind,
		Group:       req.Group,
		Name:        req.Name,
		Description: req.Description,
		Payload:     req.Payload,
	})
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	a.publishJSON(ctx, resourceCommittedTopic, map[string]any{
		"resource_id": resource.ID,
		"kind":        resource.Kind,
		"snapshot":    resource.Snapshot,
		"name":        resource.Name,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"resource": resource})
}

func (a *API) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	resource, err := a.registry.GetCurrent(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"resource": resource})
}

func (a *API) handleCommitResource(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Name             string         `json:"name"`
		Description      string         `json:"description"`
		Payload          map[string]any `json:"payload"`
		ExpectedSnapshot int64          `json:"expected_snapshot"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	resource, err := a.registry.CommitUpdate(ctx, id, registry.Update{
		Name:             req.Name,
		Description:      req.Description,
		Payload:          req.Payload,
		ExpectedSnapshot: req.ExpectedSnapshot,
	})
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	a.publishJSON(ctx, resourceCommittedTopic, map[string]any{
		"resource_id": resource.ID,
		"kind":        resource.Kind,
		"snapshot":    resource.Snapshot,
		"name":        resource.Name,
	})

	respondJSON(w, http.StatusOK, map[string]any{"resource": resource})
}

func (a *API) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.registry.DeleteResource(ctx, id); err != nil {
		respondRegistryError(w, err)
		return
	}

	a.publishJSON(ctx, resourceDeletedTopic, map[string]any{
		"resource_id": id,
		"kind":        kind,
	})

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	history, err := a.registry.ListHistory(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"snapshots": history})
}

func (a *API) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	snapshotID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "snapshotID")), 10, 64)
	if err != nil || snapshotID <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("invalid snapshot id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	snapshot, err := a.registry.GetAsOf(ctx, id, snapshotID)
	if err != nil {
		respondRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"snapshot": snapshot})
}
