package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response is a classified HTTP response. Data always holds valid JSON.
type Response struct {
	StatusCode int
	Status     string
	Data       json.RawMessage
	// Soft marks a 403 that was converted into a parseable placeholder.
	Soft bool
}

// Decode unmarshals the payload into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return errors.New("empty response payload")
	}
	return json.Unmarshal(r.Data, v)
}

// Message returns the top-level "message" field when present.
func (r *Response) Message() string {
	var payload struct {
		Message string `json:"message"`
	}
	if r == nil || json.Unmarshal(r.Data, &payload) != nil {
		return ""
	}
	return payload.Message
}

// APIError carries the status code and the best available message of a
// rejected call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: %d - %s", e.StatusCode, e.Message)
}

// AsAPIError extracts the APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
