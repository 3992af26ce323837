package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-attendance/internal/apperror"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func ErrorResponse(code, message string) APIResponse {
	return APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	}
}

func WriteJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteError renders err with the status of its apperror kind. Internal
// failures are reported without their message and the status is returned
// for request logging.
func WriteError(w http.ResponseWriter, err error) int {
	e, ok := apperror.As(err)
	if !ok || e.Kind == apperror.KindInternal {
		code := string(apperror.CodeInternal)
		if ok {
			code = string(e.Code)
		}
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse(code, "internal server error"))
		return http.StatusInternalServerError
	}
	status := apperror.HTTPStatus(e.Kind)
	WriteJSON(w, status, ErrorResponse(string(e.Code), e.Message))
	return status
}

// DecodeJSON reads a JSON request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apperror.Invalid("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.Invalid("invalid request body: " + err.Error())
	}
	return nil
}
