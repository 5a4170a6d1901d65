package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"modelbench/internal/artifact"
	"modelbench/internal/engine"
	"modelbench/internal/manager"
	"modelbench/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

// writeServiceError maps err to a status and writes it.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	resp := types.ErrorResponse{Error: err.Error(), Code: status}
	var de *artifact.DownloadError
	if errors.As(err, &de) {
		resp.Kind = de.Kind.String()
	}
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("generation_busy")
	}
	writeJSON(w, status, resp)
	return status
}

// statusFor maps well-known service errors to HTTP status codes.
func statusFor(err error) int {
	var de *artifact.DownloadError
	var he HTTPError
	switch {
	case errors.As(err, &de):
		return de.HTTPStatus()
	case errors.Is(err, artifact.ErrDownloadInProgress):
		return http.StatusConflict
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsNotReady(err):
		return http.StatusConflict
	case engine.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
