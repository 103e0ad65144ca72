// Package envelope defines the wire messages exchanged by bridges sharing a
// broadcast channel: requests, responses, and the inbound decoding rules that
// let a bridge ignore unrelated traffic on the same channel.
package envelope

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMessageType is the discriminator used when a bridge is not
	// configured with its own.
	DefaultMessageType = "msgbridge"

	// HandshakeAction is reserved for readiness probes between bridges.
	HandshakeAction = "__msgbridge_handshake__"
)

// Header holds the fields common to every envelope.
type Header struct {
	Type            string `json:"type"`
	CommunicationID string `json:"communicationId"`
	ID              string `json:"id"`
	Timestamp       int64  `json:"timestamp"`
}

// Request asks the remote side to run Action with Data.
type Request struct {
	Header
	Action       string          `json:"action"`
	Data         json.RawMessage `json:"data,omitempty"`
	NeedResponse bool            `json:"needResponse"`
}

// Response answers the request whose id equals RequestID.
type Response struct {
	Header
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Envelope is the decoded form of any inbound message. Request and response
// fields are both kept so malformed input carrying both can be routed twice.
type Envelope struct {
	Header
	Action       string          `json:"action,omitempty"`
	NeedResponse bool            `json:"needResponse,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Success      bool            `json:"success,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// IsRequest reports whether the envelope carries an action.
func (e Envelope) IsRequest() bool { return e.Action != "" }

// IsResponse reports whether the envelope answers an earlier request.
func (e Envelope) IsResponse() bool { return e.RequestID != "" }

// NewID returns a UUIDv7 string: a millisecond clock prefix followed by
// random bits, so ids from one sender never collide while in flight.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func newHeader(messageType, from string) Header {
	return Header{
		Type:            messageType,
		CommunicationID: from,
		ID:              NewID(),
		Timestamp:       time.Now().UnixMilli(),
	}
}

// NewRequest builds a request envelope from sender from.
func NewRequest(messageType, from, action string, data any, needResponse bool) (Request, error) {
	raw, err := EncodeData(data)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Header:       newHeader(messageType, from),
		Action:       action,
		Data:         raw,
		NeedResponse: needResponse,
	}, nil
}

// NewSuccess builds a successful response to requestID.
func NewSuccess(messageType, from, requestID string, data any) (Response, error) {
	raw, err := EncodeData(data)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Header:    newHeader(messageType, from),
		RequestID: requestID,
		Success:   true,
		Data:      raw,
	}, nil
}

// NewFailure builds a failed response to requestID.
func NewFailure(messageType, from, requestID, message string) Response {
	return Response{
		Header:    newHeader(messageType, from),
		RequestID: requestID,
		Error:     message,
	}
}

// EncodeData turns an arbitrary payload into raw JSON. Raw JSON passes through
// untouched and nil stays absent on the wire.
func EncodeData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		if json.Valid(d) {
			return json.RawMessage(d), nil
		}
	}
	return json.Marshal(v)
}

// Decode parses an inbound frame. It returns false for anything this bridge
// must ignore: non-JSON data, non-object values, and envelopes whose type
// discriminator differs from messageType.
//
// Past the discriminator, fields are read one at a time so a single
// mistyped field does not drop the whole envelope: string fields holding
// another JSON value keep its raw text, and flags or timestamps that are not
// a bool or number read as zero.
func Decode(frame []byte, messageType string) (Envelope, bool) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Envelope{}, false
	}
	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || typ != messageType {
		return Envelope{}, false
	}

	env := Envelope{
		Header: Header{
			Type:            typ,
			CommunicationID: text(fields["communicationId"]),
			ID:              text(fields["id"]),
			Timestamp:       number(fields["timestamp"]),
		},
		Action:       text(fields["action"]),
		NeedResponse: flag(fields["needResponse"]),
		RequestID:    text(fields["requestId"]),
		Success:      flag(fields["success"]),
		Data:         fields["data"],
		Error:        text(fields["error"]),
	}
	return env, true
}

func text(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func flag(raw json.RawMessage) bool {
	var v bool
	_ = json.Unmarshal(raw, &v)
	return v
}

func number(raw json.RawMessage) int64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return int64(f)
}
