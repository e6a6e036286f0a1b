package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ledgerd/services/registry"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondRegistryError maps the registry's sentinel errors onto HTTP status
// codes: validation 400, not found 404, conflict 409, dangling reference 410.
func respondRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrValidation):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, registry.ErrConflict):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, registry.ErrDanglingReference):
		respondError(w, http.StatusGone, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
