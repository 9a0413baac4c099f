package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quillpress/apiserver/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type contextKey string

const contextPrincipalKey contextKey = "principal"

// Response is the envelope shared by every endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse adds per-field validation messages to the envelope.
type ErrorResponse struct {
	Response
	Errors map[string]string `json:"errors,omitempty"`
}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, contextPrincipalKey, p)
}

// PrincipalFrom returns the principal stored by RequireAuth.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(contextPrincipalKey).(auth.Principal)
	return p, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return nil
}

func parseID(r *http.Request, param string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil || id < 1 {
		return 0, errors.New("invalid " + param)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

func writeValidationError(w http.ResponseWriter, verr *auth.ValidationError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Response: Response{Success: false, Message: verr.Error()},
		Errors:   verr.Fields,
	})
}

func copyBody(w http.ResponseWriter, contentType string, r io.Reader) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, r)
}

// Healthz reports that the process is serving requests.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok"})
}
