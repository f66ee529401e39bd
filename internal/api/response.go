package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"folio/pkg/folio"
)

// Response is the envelope of a successful API response.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the envelope of a failed API response.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Data: data})
}

func writeCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Response{Data: data})
}

func writeSuccessWithMessage(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{Message: message, Data: data})
}

// writeErrorResponse maps folio error codes onto HTTP statuses. Errors
// without a code are reported with fallbackStatus.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, fallbackStatus int, err error) {
	status := fallbackStatus
	response := ErrorResponse{Message: err.Error()}

	var fe *folio.Error
	if errors.As(err, &fe) {
		response.ErrorCode = string(fe.Code)
		status = mapErrorCodeToHTTPStatus(fe.Code)
	}
	response.Code = status
	if r != nil {
		response.RequestID = middleware.GetReqID(r.Context())
	}
	if lw, ok := w.(interface{ SetErrorMessage(string) }); ok {
		lw.SetErrorMessage(response.Message)
	}
	writeJSON(w, status, response)
}

func mapErrorCodeToHTTPStatus(code folio.ErrorCode) int {
	switch code {
	case folio.ErrCodeInvalidInput, folio.ErrCodeValidation, folio.ErrCodeCurrencyMismatch:
		return http.StatusBadRequest
	case folio.ErrCodeNotFound:
		return http.StatusNotFound
	case folio.ErrCodeDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
