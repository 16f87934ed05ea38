// Package protocol encodes and decodes the JSON messages exchanged over a
// game's websocket channel.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ernie/milsim/internal/domain"
)

// Request is a client -> server message
type Request struct {
	Type      string          `json:"type"`
	GameID    int64           `json:"gameId"`
	Action    string          `json:"action,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Envelope is a server -> client message with its payload left undecoded
type Envelope struct {
	Type      string          `json:"type"`
	GameID    int64           `json:"gameId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent marshals a server -> client event
func EncodeEvent(ev domain.Event) ([]byte, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("encoding event: empty type")
	}
	return json.Marshal(ev)
}

// EncodeRequest marshals a client -> server message
func EncodeRequest(typ string, gameID int64, action string, data any) ([]byte, error) {
	if typ == "" {
		return nil, fmt.Errorf("encoding request: empty type")
	}
	req := Request{Type: typ, GameID: gameID, Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		req.Data = raw
	}
	return json.Marshal(req)
}

// DecodeRequest parses a client -> server message
func DecodeRequest(b []byte) (Request, error) {
	if len(b) == 0 {
		return Request{}, fmt.Errorf("decoding request: empty message")
	}
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return Request{}, fmt.Errorf("decoding request: %w", err)
	}
	if req.Type == "" {
		return Request{}, fmt.Errorf("decoding request: missing type")
	}
	return req, nil
}

// DecodeEnvelope parses a server -> client message
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decoding envelope: empty message")
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}

// DecodeData unmarshals a raw payload into T
func DecodeData[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("%w: empty payload", domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return out, nil
}
