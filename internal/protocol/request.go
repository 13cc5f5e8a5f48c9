package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Reserved top-level keys of a request envelope
const (
	KeyRequestID  = "requestId"
	KeyController = "controller"
	KeyAction     = "action"
	KeyIndex      = "index"
	KeyCollection = "collection"
	KeyBody       = "body"
	KeyMetadata   = "metadata"
	KeyJWT        = "jwt"
)

// Request is the envelope sent to the server. Known keys are kept as fields;
// everything else (headers, route arguments such as scope or from/size)
// lives in Fields and is flattened at the top level on the wire.
type Request struct {
	RequestID  string
	Controller string
	Action     string
	Index      string
	Collection string
	Body       json.RawMessage
	Metadata   map[string]interface{}
	JWT        string
	Fields     map[string]interface{}
}

// NewRequestID generates a fresh correlation id
func NewRequestID() string {
	return uuid.NewString()
}

// Set stores an extra top-level key
func (r *Request) Set(key string, value interface{}) {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{})
	}
	r.Fields[key] = value
}

// Get returns an extra top-level key
func (r *Request) Get(key string) (interface{}, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// SetBody marshals v into the request body
func (r *Request) SetBody(v interface{}) error {
	if v == nil {
		r.Body = nil
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		r.Body = raw
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	r.Body = data
	return nil
}

// Has returns true if key already holds a value in the envelope
func (r *Request) Has(key string) bool {
	switch key {
	case KeyRequestID:
		return r.RequestID != ""
	case KeyController:
		return r.Controller != ""
	case KeyAction:
		return r.Action != ""
	case KeyIndex:
		return r.Index != ""
	case KeyCollection:
		return r.Collection != ""
	case KeyBody:
		return len(r.Body) > 0
	case KeyMetadata:
		return r.Metadata != nil
	case KeyJWT:
		return r.JWT != ""
	}
	v, ok := r.Fields[key]
	return ok && v != nil
}

// AddHeaders copies headers into the envelope, only filling keys that are
// not already present
func (r *Request) AddHeaders(headers map[string]interface{}) {
	for k, v := range headers {
		if r.Has(k) {
			continue
		}
		switch k {
		case KeyRequestID, KeyController, KeyAction, KeyIndex, KeyCollection, KeyJWT:
			if s, ok := v.(string); ok {
				r.setKnown(k, s)
				continue
			}
		}
		r.Set(k, v)
	}
}

func (r *Request) setKnown(key, value string) {
	switch key {
	case KeyRequestID:
		r.RequestID = value
	case KeyController:
		r.Controller = value
	case KeyAction:
		r.Action = value
	case KeyIndex:
		r.Index = value
	case KeyCollection:
		r.Collection = value
	case KeyJWT:
		r.JWT = value
	}
}

// Clone creates a copy of the request
func (r *Request) Clone() Request {
	clone := *r
	if r.Body != nil {
		clone.Body = make(json.RawMessage, len(r.Body))
		copy(clone.Body, r.Body)
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	if r.Fields != nil {
		clone.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			clone.Fields[k] = v
		}
	}
	return clone
}

// Validate checks the keys a replayable request must carry
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return malformed("request", KeyRequestID)
	}
	if r.Controller == "" {
		return malformed("request", KeyController)
	}
	if r.Action == "" {
		return malformed("request", KeyAction)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (r Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Fields)+8)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[KeyRequestID] = r.RequestID
	out[KeyController] = r.Controller
	out[KeyAction] = r.Action
	if r.Index != "" {
		out[KeyIndex] = r.Index
	}
	if r.Collection != "" {
		out[KeyCollection] = r.Collection
	}
	if len(r.Body) > 0 {
		out[KeyBody] = r.Body
	}
	if r.Metadata != nil {
		out[KeyMetadata] = r.Metadata
	} else {
		out[KeyMetadata] = map[string]interface{}{}
	}
	if r.JWT != "" {
		out[KeyJWT] = r.JWT
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Request{}
	for k, v := range raw {
		switch k {
		case KeyRequestID, KeyController, KeyAction, KeyIndex, KeyCollection, KeyJWT:
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("invalid %q: %w", k, err)
			}
			r.setKnown(k, s)
		case KeyBody:
			r.Body = v
		case KeyMetadata:
			if err := json.Unmarshal(v, &r.Metadata); err != nil {
				return fmt.Errorf("invalid %q: %w", k, err)
			}
		default:
			var val interface{}
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			r.Set(k, val)
		}
	}
	return nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// ParseRequest parses a request envelope from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}
