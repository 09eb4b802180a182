package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/console"
	"github.com/fpang/traffic-console/internal/launcher"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error response. The clientMsg is returned to the caller.
// Optional internalDetails are logged server-side but never sent to the client.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// serviceError maps console errors to HTTP responses.
func serviceError(w http.ResponseWriter, err error) {
	var uploadErr *console.UploadTransportError
	var dispatchErr *launcher.DispatchError
	switch {
	case errors.Is(err, console.ErrInvalid):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, console.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "session not found")
	case errors.As(err, &uploadErr):
		httpError(w, http.StatusConflict, "upload not found or incomplete; upload the video again", err.Error())
	case errors.As(err, &dispatchErr):
		httpError(w, http.StatusServiceUnavailable, "no processing capacity available; try again later", err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
