package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged server-side with its technical detail and the
// request id, then returned to the client as a JSON ErrorResponse carrying
// the user-facing message, suggested action and support code from
// core.MapError.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errNoFile is returned when a validate request carries no file part.
var errNoFile = errors.New("no file provided")

// respondError logs err and writes the mapped user message. A status of 0
// derives one from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if errors.Is(err, core.ErrTooManyJobs) {
		w.Header().Set("Retry-After", "5")
	}
	respondErrorJSON(w, userMsg, status)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeError writes a JSON error response for failures that have no
// underlying error value, such as rejected requests in middleware.
func writeError(w http.ResponseWriter, status int, message string) {
	err := errors.New(message)
	msg := core.MapError(err)
	if !core.IsUserFacing(err) {
		msg.Message = message
	}
	respondErrorJSON(w, msg, status)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &maxBytes),
		strings.Contains(err.Error(), "request body too large"):
		return http.StatusRequestEntityTooLarge
	case core.IsDecodeError(err, core.UnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errNoFile), errors.Is(err, core.ErrUnsupportedTemplateFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownEntity), errors.Is(err, core.ErrJobNotFound),
		core.IsExecutionError(err, core.SessionNotFound):
		return http.StatusNotFound
	case core.IsExecutionError(err, core.SessionExpired):
		return http.StatusGone
	case core.IsExecutionError(err, core.SessionInUse):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyJobs), errors.Is(err, core.ErrNoRecordStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
