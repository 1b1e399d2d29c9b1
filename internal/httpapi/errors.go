package httpapi

import (
	"encoding/json"
	"net/http"

	"hapied/internal/infer"
	"hapied/internal/pull"
	"hapied/internal/registry"
	"hapied/pkg/types"
)

// writeJSONError emits the consistent error payload used by every endpoint.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps a domain error onto its HTTP status and emits the payload.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("pull_capacity")
	}
	writeJSONError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case registry.IsNotFound(err), pull.IsSourceNotFound(err), pull.IsNoLiveJob(err):
		return http.StatusNotFound
	case registry.IsDuplicateID(err),
		registry.IsInvalidTransition(err),
		registry.IsNotInstalled(err),
		registry.IsProtectedModel(err),
		registry.IsActiveModelInUse(err),
		infer.IsKeyNotFound(err):
		return http.StatusConflict
	case pull.IsTooBusy(err):
		return http.StatusTooManyRequests
	case pull.IsInsufficientStorage(err):
		return http.StatusInsufficientStorage
	case infer.IsInvalidKey(err):
		return http.StatusUnauthorized
	case infer.IsUnknownProvider(err):
		return http.StatusBadRequest
	case infer.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
