package protocol

import (
	"encoding/json"
	"fmt"
)

// Notification is a server push received on a subscription channel
type Notification struct {
	Status     int                    `json:"status"`
	RequestID  string                 `json:"requestId,omitempty"`
	RoomID     string                 `json:"roomId,omitempty"`
	Type       string                 `json:"type,omitempty"`
	Index      string                 `json:"index,omitempty"`
	Collection string                 `json:"collection,omitempty"`
	Controller string                 `json:"controller,omitempty"`
	Action     string                 `json:"action,omitempty"`
	State      string                 `json:"state,omitempty"`
	Scope      string                 `json:"scope,omitempty"`
	User       string                 `json:"user,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Result     json.RawMessage        `json:"result,omitempty"`
	Error      *Error                 `json:"error,omitempty"`
}

// Document is the stored document a notification may carry in its result
type Document struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
	Meta   json.RawMessage `json:"_meta,omitempty"`
}

// UserEvent is the result of a room entry/exit ("on"/"off") notification
type UserEvent struct {
	Count int `json:"count"`
}

// ParseNotification parses a push envelope
func ParseNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}
	if n.Error == nil && n.Type != TokenExpiredType && len(n.Result) == 0 {
		return nil, malformed("notification", "result")
	}
	return &n, nil
}

// IsUserEvent returns true for room entry/exit notifications
func (n *Notification) IsUserEvent() bool {
	return n.Action == ActionOn || n.Action == ActionOff
}

// Document extracts the document from the notification result.
// Returns nil if the result does not hold a document.
func (n *Notification) Document() (*Document, error) {
	if len(n.Result) == 0 {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(n.Result, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse notification result: %w", err)
	}
	if _, ok := probe["_source"]; !ok {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(n.Result, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if doc.ID == "" {
		return nil, malformed("document", "_id")
	}
	return &doc, nil
}
