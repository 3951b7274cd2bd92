package shared

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// Failure taxonomy. Capture-layer failures degrade the recording
	// session; turn-layer failures halt the conversation until the user
	// explicitly retries.
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrHandshakeFailed  = errors.New("transcription handshake failed")
	ErrTurnTimeout      = errors.New("turn request timed out")
	ErrTransport        = errors.New("transport failure")
	ErrServer           = errors.New("server error")
)

type APIError struct {
	Code    string `json:"code" example:"invalid_request"`
	Message string `json:"message" example:"Invalid request body"`
	Details any    `json:"details,omitempty"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func Unauthorized(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusUnauthorized)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func Conflict(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusConflict)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}
