// Package protocol defines the JSON messages exchanged with live observers.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode marshals a server message for the wire.
func Encode(msgType string, payload any) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Server → Client message types.
const (
	TypeSessionUpdate     = "session.update"
	TypeSessionOutput     = "session.output"
	TypeSessionResponse   = "session.response"
	TypeSessionTerminated = "session.terminated"
	TypeError             = "error"
)

// Client → Server message types.
const (
	TypeSessionKill = "session.kill"
)

// Error codes.
const (
	ErrSessionNotFound   = "SESSION_NOT_FOUND"
	ErrSessionTerminated = "SESSION_TERMINATED"
	ErrInvalidMessage    = "INVALID_MESSAGE"
)

// Server → Client payloads.

type SessionUpdatePayload struct {
	ID        string   `json:"id"`
	State     string   `json:"state"`
	PID       int      `json:"pid"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	StartedAt string   `json:"startedAt"`
	Responses int      `json:"responses"`
}

type SessionOutputPayload struct {
	SessionID string `json:"sessionId"`
	Stream    string `json:"stream"` // "stdout" | "stderr"
	Data      string `json:"data"`
}

type SessionResponsePayload struct {
	SessionID string `json:"sessionId"`
	Response  string `json:"response"`
	Pattern   string `json:"pattern,omitempty"`
	Source    string `json:"source,omitempty"`
}

type SessionTerminatedPayload struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
	Cancelled bool   `json:"cancelled"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type SessionKillPayload struct {
	SessionID string `json:"sessionId"`
}
