package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

const (
	codeNotFound           = "not_found"
	codeArgument           = "invalid_argument"
	codeArgumentNull       = "missing_argument"
	codeForbidden          = "forbidden"
	codeAlreadyInUse       = "already_in_use"
	codeRateLimitExceeded  = "rate_limit_exceeded"
	codeServiceUnavailable = "service_unavailable"
	codeNotImplemented     = "not_implemented"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
// Unrecognized errors stay opaque 500s.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrArgumentNull):
		writeError(w, http.StatusBadRequest, codeArgumentNull, err.Error())
	case errors.Is(err, domain.ErrArgument):
		writeError(w, http.StatusBadRequest, codeArgument, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, domain.ErrAlreadyInUse):
		writeError(w, http.StatusConflict, codeAlreadyInUse, err.Error())
	case errors.Is(err, domain.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, codeRateLimitExceeded, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, codeNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
