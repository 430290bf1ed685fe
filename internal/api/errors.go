package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/casgen-dev/casgen/internal/auth"
	"github.com/casgen-dev/casgen/internal/jobs"
)

// Error codes shared between synchronous responses and job records.
const (
	codeValidationError  = "VALIDATION_ERROR"
	codeUnauthorized     = "UNAUTHORIZED"
	codeRateLimited      = "RATE_LIMITED"
	codeQuotaExceeded    = "QUOTA_EXCEEDED"
	codeNotFound         = "NOT_FOUND"
	codeConflict         = "CONFLICT"
	codeStorageError     = "STORAGE_ERROR"
	codeGenerationError  = "GENERATION_ERROR"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// writeServiceError maps domain errors onto the HTTP taxonomy. Auth
// failures collapse to a single 401 so a caller cannot probe which keys
// exist.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingKey),
		errors.Is(err, auth.ErrInvalidKey),
		errors.Is(err, auth.ErrKeyExpired),
		errors.Is(err, auth.ErrKeyInactive):
		s.writeError(w, http.StatusUnauthorized, ErrorBody{
			Code:    codeUnauthorized,
			Message: "missing or invalid API key",
		})
		return
	}

	if le, ok := auth.AsLimitError(err); ok {
		if le.Code == auth.CodeQuotaExceeded {
			s.writeError(w, http.StatusForbidden, ErrorBody{
				Code:    codeQuotaExceeded,
				Message: le.Message,
			})
			return
		}
		retry := le.RetryAfterSeconds
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.writeError(w, http.StatusTooManyRequests, ErrorBody{
			Code:    codeRateLimited,
			Message: le.Message,
			Details: map[string]any{"retry_after_seconds": retry},
		})
		return
	}

	if jerr := jobs.AsError(err); jerr != nil {
		switch jerr.Kind {
		case jobs.ErrKindNotFound:
			s.writeError(w, http.StatusNotFound, ErrorBody{
				Code:    codeNotFound,
				Message: jerr.Message,
			})
		case jobs.ErrKindInvalidTransition:
			details := map[string]any{}
			if jerr.JobID != "" {
				details["job_id"] = jerr.JobID
			}
			if jerr.State != "" {
				details["status"] = string(jerr.State)
			}
			s.writeError(w, http.StatusConflict, ErrorBody{
				Code:    codeConflict,
				Message: jerr.Message,
				Details: details,
			})
		case jobs.ErrKindValidation:
			s.writeError(w, http.StatusUnprocessableEntity, ErrorBody{
				Code:    codeValidationError,
				Message: jerr.Message,
				Details: jerr.Details,
			})
		case jobs.ErrKindStorage:
			s.writeError(w, http.StatusServiceUnavailable, ErrorBody{
				Code:    codeStorageError,
				Message: jerr.Message,
			})
		default:
			s.writeError(w, http.StatusInternalServerError, ErrorBody{
				Code:    codeGenerationError,
				Message: jerr.Message,
			})
		}
		return
	}

	s.writeError(w, http.StatusInternalServerError, ErrorBody{
		Code:    codeGenerationError,
		Message: err.Error(),
	})
}

func (s *Server) writeParseError(w http.ResponseWriter, err error) {
	s.writeError(w, http.StatusUnprocessableEntity, ErrorBody{
		Code:    codeValidationError,
		Message: "request body is not valid JSON",
		Details: map[string]any{"parse_error": err.Error()},
	})
}

func (s *Server) writeEndpointNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, ErrorBody{
		Code:    codeNotFound,
		Message: "endpoint not found",
		Details: map[string]any{"path": r.URL.Path},
	})
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter, method, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, ErrorBody{
		Code:    codeMethodNotAllowed,
		Message: "method not allowed",
		Details: map[string]any{"method": method, "allowed": allowed},
	})
}
