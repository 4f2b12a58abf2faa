/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"encoding/json"
	"fmt"
)

// Event types understood by DecodeEvent.
const (
	TypeHello  = "HELLO"
	TypeStatus = "__STATUS__"
)

// Transport states carried by Status events.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateError  = "error"
	StateLocal  = "local"
)

// Event is one member of the application event union. Every event
// serializes with a "type" discriminant.
type Event interface {
	EventType() string
}

// Hello announces a participant to the rest of the room.
type Hello struct {
	From string `json:"from"`
	Name string `json:"name"`
}

func (Hello) EventType() string { return TypeHello }

func (h Hello) MarshalJSON() ([]byte, error) {
	type fields Hello

	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeHello, fields(h)})
}

// Status is synthesized by a transport to report its connection state.
// It never travels over the wire.
type Status struct {
	State string `json:"state"`
}

func (Status) EventType() string { return TypeStatus }

func (s Status) MarshalJSON() ([]byte, error) {
	type fields Status

	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeStatus, fields(s)})
}

// Unknown carries any event whose type has no dedicated struct.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) EventType() string { return u.Type }

func (u Unknown) MarshalJSON() ([]byte, error) {
	return u.Raw, nil
}

// DecodeEvent maps a raw payload onto the event union.
func DecodeEvent(raw json.RawMessage) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch head.Type {
	case TypeHello:
		var h Hello
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return h, nil
	case TypeStatus:
		var s Status
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return s, nil
	case "":
		return nil, fmt.Errorf("decode event: missing type")
	default:
		return Unknown{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
