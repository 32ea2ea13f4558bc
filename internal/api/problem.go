package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/auth"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 error body. Extensions always carries a code.
type Problem struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	Extensions map[string]any `json:"extensions"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, ext map[string]any) {
	extensions := make(map[string]any, len(ext)+1)
	for k, v := range ext {
		extensions[k] = v
	}
	extensions["code"] = code

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:       "/problems/" + code,
		Title:      http.StatusText(status),
		Status:     status,
		Detail:     detail,
		Instance:   r.URL.Path,
		Extensions: extensions,
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnprocessable:
		return http.StatusUnprocessableEntity
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a problem. Untyped errors become 500 and are
// logged with the request logger; their text never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	e, ok := apperr.As(err)
	if !ok {
		logger.Error().Err(err).Msg("unhandled error")
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "internal error", nil)
		return
	}

	status := statusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", e.Code).Msg("request failed")
	}
	writeProblem(w, r, status, e.Code, e.Message, e.Extensions)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code := "invalid_token"
	if errors.Is(err, auth.ErrMissingToken) {
		code = "missing_token"
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeProblem(w, r, http.StatusUnauthorized, code, err.Error(), nil)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, code, detail string) {
	writeProblem(w, r, http.StatusBadRequest, code, detail, nil)
}
