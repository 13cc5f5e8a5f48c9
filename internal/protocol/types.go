package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TokenExpiredMessage is the error message the server uses when the
// authentication token carried by a request is no longer valid
const TokenExpiredMessage = "Token expired"

// TokenExpiredType is the push type signalling that the token bound to a
// subscription expired
const TokenExpiredType = "TokenExpired"

// Push actions sent on subscription channels
const (
	ActionOn  = "on"
	ActionOff = "off"
)

// ErrMalformed is returned when an envelope misses fields it must carry
var ErrMalformed = errors.New("malformed envelope")

// Error represents an error returned by the server, or a transport level
// failure reported through the same shape (message + code)
type Error struct {
	Status  int             `json:"status,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Stack   string          `json:"stack,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// NewError creates a new protocol error
func NewError(status int, message string) *Error {
	return &Error{
		Status:  status,
		Message: message,
	}
}

// IsTokenExpired returns true if the error is the token expiration sentinel
func (e *Error) IsTokenExpired() bool {
	return e != nil && e.Message == TokenExpiredMessage
}

func malformed(kind, field string) error {
	return fmt.Errorf("%s: missing %q: %w", kind, field, ErrMalformed)
}
