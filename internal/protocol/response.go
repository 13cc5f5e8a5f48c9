package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response represents the server answer to a single request
type Response struct {
	RequestID  string          `json:"requestId"`
	Status     int             `json:"status,omitempty"`
	Controller string          `json:"controller,omitempty"`
	Action     string          `json:"action,omitempty"`
	Index      string          `json:"index,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Room       string          `json:"room,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *Error          `json:"error,omitempty"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ResultIsNull returns true if the response result is JSON null
func (r *Response) ResultIsNull() bool {
	if r == nil || len(r.Result) == 0 {
		return true
	}
	return bytes.Equal(r.Result, []byte("null"))
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// NewResponse creates a successful response
func NewResponse(requestID string, result interface{}) (*Response, error) {
	resp := &Response{
		RequestID: requestID,
		Status:    200,
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp.Result = resultBytes
	return resp, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(requestID string, err *Error) *Response {
	status := err.Status
	if status == 0 {
		status = 500
	}
	return &Response{
		RequestID: requestID,
		Status:    status,
		Error:     err,
	}
}

// ParseResponse parses a response envelope. A response carries either an
// error or a result; one without both is malformed.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error == nil && len(resp.Result) == 0 {
		return nil, malformed("response", "result")
	}
	return &resp, nil
}
