package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes produced by the client itself. Server-produced codes are
// passed through as received.
const (
	CodeNoRefreshToken = "no_refresh_token"
	CodeRefreshFailed  = "refresh_failed"
)

// APIError carries the server status and the structured error body
// the server responds with: {error: code, message?, details?}
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any

	err error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%q", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d message=%q", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// errorFromResponse maps a non-2xx response to APIError. The body is
// parsed as structured error JSON when possible; otherwise the HTTP
// status text is used as the message.
func errorFromResponse(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Details any    `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.Details = body.Details
	}

	if apiErr.Message == "" {
		if apiErr.Code != "" {
			apiErr.Message = apiErr.Code
		} else {
			apiErr.Message = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
	}

	return apiErr
}
