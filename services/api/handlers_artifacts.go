package api

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"ledgerd/services/registry"
)

// artifactKey builds the object key for an artifact resource. Filenames are
// flattened to their base name so callers cannot escape the resource prefix.
func artifactKey(resource registry.Resource, filename string) string {
	return fmt.Sprintf("artifacts/%s/%s", resource.ID, path.Base(filename))
}

func (a *API) handleArtifactUpload(w http.ResponseWriter, r *http.Request) {
	if a.store.S3 == nil {
		respondError(w, http.StatusFailedDependency, errors.New("object storage is not configured"))
		return
	}

	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Filename string `json:"filename"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" {
		respondError(w, http.StatusBadRequest, errors.New("filename is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	resource, err := a.registry.GetCurrent(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	if resource.Kind != registry.KindArtifact {
		respondError(w, http.StatusBadRequest, fmt.Errorf("resource %s is a %s, not an artifact", id, resource.Kind))
		return
	}

	key := artifactKey(resource, req.Filename)
	url, err := a.store.S3.PresignPut(ctx, a.config.ArtifactBucket, key, a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"upload_url": url,
		"key":        key,
		"expires_in": a.config.PresignTTL.Seconds(),
	})
}

func (a *API) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if a.store.S3 == nil {
		respondError(w, http.StatusFailedDependency, errors.New("object storage is not configured"))
		return
	}

	id, err := resourceIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		respondError(w, http.StatusBadRequest, errors.New("filename query parameter is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	resource, err := a.registry.GetCurrent(ctx, id)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	if resource.Kind != registry.KindArtifact {
		respondError(w, http.StatusBadRequest, fmt.Errorf("resource %s is a %s, not an artifact", id, resource.Kind))
		return
	}

	key := artifactKey(resource, filename)
	url, err := a.store.S3.PresignGet(ctx, a.config.ArtifactBucket, key, a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"download_url": url,
		"key":          key,
		"expires_in":   a.config.PresignTTL.Seconds(),
	})
}
