package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with full technical detail (server-side) and returned
// to the client as a JSON ErrorResponse built from core.MapError. The HTTP
// status comes from the caller or, via statusForError, from the error itself.

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/JonMunkholm/vulnmaster/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// respondError logs err and writes a user-friendly JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}

	var ve core.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Message = ve.Message
	}
	var ie *core.IngestError
	if errors.As(err, &ie) {
		resp.Line = ie.Line
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// respondServiceError writes err with the status derived from its type.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrTooManyIngests) {
		w.Header().Set("Retry-After", "30")
	}
	respondError(w, r, err, statusForError(err))
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	var (
		ve      core.ValidationError
		maxErr  *http.MaxBytesError
		parseEr *csv.ParseError
		ie      *core.IngestError
	)

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRecordNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyIngests):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrInvalidEncoding),
		errors.As(err, &parseEr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ie) && ie.Phase == core.PhaseParsing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
