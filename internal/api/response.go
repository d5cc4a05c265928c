package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/middleware"
	"github.com/SigNoz/ecommerce-checkout/internal/services"
	"github.com/gorilla/mux"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

// principalHandler is a handler that needs the authenticated caller
type principalHandler func(w http.ResponseWriter, r *http.Request, p middleware.Principal)

// authenticated rejects requests without a principal
func (a *App) authenticated(h principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := middleware.PrincipalFrom(r.Context())
		if !ok {
			writeStatus(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		h(w, r, p)
	}
}

// admin rejects requests whose principal lacks the ADMIN role
func (a *App) admin(h http.HandlerFunc) http.HandlerFunc {
	return a.authenticated(func(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
		if !p.IsAdmin() {
			writeStatus(w, r, http.StatusForbidden, "admin role required")
			return
		}
		h(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

// writeError maps service errors onto HTTP statuses; anything unclassified is a 500
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v - %s", r.Method, r.URL.Path, err, middleware.RequestIDFrom(r.Context()))
		message = "unexpected error"
	}
	writeStatus(w, r, status, message)
}

func writeStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      r.URL.Path,
	})
}

func statusFor(err error) int {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		return http.StatusInternalServerError
	}
	switch svcErr.Code {
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeDomain, services.CodeInvalidArgument:
		return http.StatusBadRequest
	case services.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeStatus(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeStatus(w, r, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}
