package protocol

import (
	"encoding/json"
	"fmt"
)

// WebSocketMessage is the envelope of pushed messages.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is an incoming request. ID is chosen by the client and
// echoed in the response.
type WebSocketRequest struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v. A missing payload leaves v untouched.
func (r WebSocketRequest) Decode(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", r.Type, err)
	}
	return nil
}

// WebSocketResponse answers a request. Type repeats the request type.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload is the payload of error responses.
type ErrorPayload struct {
	Code string `json:"code"`
}

// DeviceStatusPayload is pushed when a client connects.
type DeviceStatusPayload struct {
	Connected         bool              `json:"connected"`
	PlatformSupported bool              `json:"platformSupported"`
	Message           string            `json:"message"`
	Versions          map[string]string `json:"versions,omitempty"`
}

// WaitStartedPayload answers waitForCard.
type WaitStartedPayload struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// WaitCancelledPayload is pushed when a wait job ends without a card.
type WaitCancelledPayload struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}
