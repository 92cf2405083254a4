package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error to its HTTP status and error code. Storage and
// index failures share one generic reply; the logs tell them apart.
func statusFor(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	var storageErr *simpleupload.StorageError
	var indexErr *simpleupload.IndexWriteError

	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, simpleupload.ErrMissingFile):
		return http.StatusBadRequest, "missing_file"
	case errors.Is(err, simpleupload.ErrUnsupportedType):
		return http.StatusBadRequest, "unsupported_type"
	case errors.Is(err, simpleupload.ErrInvalidKey):
		return http.StatusBadRequest, "invalid_key"
	case errors.Is(err, simpleupload.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &storageErr), errors.As(err, &indexErr):
		return http.StatusInternalServerError, "internal_error"
	case errors.Is(err, simpleupload.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// intakeResult is the label recorded for an intake outcome.
func intakeResult(err error) string {
	var storageErr *simpleupload.StorageError
	var indexErr *simpleupload.IndexWriteError
	var maxBytesErr *http.MaxBytesError

	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &maxBytesErr):
		return "too_large"
	case errors.Is(err, simpleupload.ErrMissingFile):
		return "missing_file"
	case errors.Is(err, simpleupload.ErrUnsupportedType):
		return "unsupported_type"
	case errors.As(err, &indexErr):
		return "index_error"
	case errors.As(err, &storageErr):
		return "storage_error"
	default:
		return "error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "err", err)
		message = "An internal server error occurred"
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
	}})
}
