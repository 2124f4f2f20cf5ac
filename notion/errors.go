package notion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMissingID         = errors.New("notion: missing id")
	ErrNotConfigured     = errors.New("notion: database is not configured")
	ErrProjectNotFound   = errors.New("notion: project not found")
	ErrInvalidTask       = errors.New("notion: invalid task")
	ErrUnsupportedFormat = errors.New("notion: unsupported property value")
)

// APIError is the decoded error object Notion returns on non-2xx responses.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("notion api: status=%d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("notion api: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests ||
		e.Status == http.StatusConflict ||
		e.Status >= http.StatusInternalServerError
}

func decodeAPIError(status int, payload []byte) error {
	apiErr := &APIError{}
	if err := json.Unmarshal(payload, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Code = ""
		apiErr.Message = strings.TrimSpace(string(payload))
	}
	apiErr.Status = status
	return apiErr
}
