package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/feed/internal/service/auth"
)

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPut && req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload auth.SignupInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := r.auth.Signup(req.Context(), payload)
	if err != nil {
		r.writeAppError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User created!",
		"userId":  user.ID,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeAppError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	verdict := verdictFromContext(req.Context())
	switch req.Method {
	case http.MethodGet:
		status, err := r.auth.Status(req.Context(), verdict.UserID)
		if err != nil {
			r.writeAppError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	case http.MethodPatch, http.MethodPut:
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		status, err := r.auth.UpdateStatus(req.Context(), verdict.UserID, payload.Status)
		if err != nil {
			r.writeAppError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "User updated.", "status": status})
	default:
		r.methodNotAllowed(w)
	}
}
