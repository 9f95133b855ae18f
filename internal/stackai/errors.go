package stackai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tildaslashalef/kbpicker/internal/resource"
)

// ErrAuthRequired is returned when there is no valid session. Callers should
// force a new login.
var ErrAuthRequired = errors.New("authentication required")

// APIError represents a non-2xx response from the API
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Is matches ErrAuthRequired for 401/403 responses and
// resource.ErrPathNotFound for client errors reporting a missing path.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthRequired:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case resource.ErrPathNotFound:
		return e.isMissingPath()
	}
	return false
}

// isMissingPath matches the "Path error: <path> does not exist" answer for
// unmaterialized folders. Auth failures and other missing objects, such as a
// deleted knowledge base, do not match.
func (e *APIError) isMissingPath() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return false
	}
	text := strings.ToLower(e.Message + " " + e.Body)
	return strings.Contains(text, "path error") && strings.Contains(text, "does not exist")
}

// Retryable reports whether the request may succeed if repeated
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}

	// The API answers with either {"message": ...} or {"detail": ...}
	var payload struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
	}
	if err := unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Detail != nil:
			apiErr.Message = fmt.Sprint(payload.Detail)
		case payload.Error != "":
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}
