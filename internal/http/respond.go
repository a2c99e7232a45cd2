package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/feed/internal/apperror"
)

type errorBody struct {
	Message    string                `json:"message"`
	Data       []apperror.FieldError `json:"data,omitempty"`
	StatusCode int                   `json:"statusCode"`
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends a plain message with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg, StatusCode: status})
}

// writeAppError renders a classified error. Internal failures are logged
// and reported without detail.
func (r *Router) writeAppError(w http.ResponseWriter, req *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok || appErr.Kind == apperror.KindInternal {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	status := appErr.Status()
	writeJSON(w, status, errorBody{Message: appErr.Message, Data: appErr.Fields, StatusCode: status})
}
