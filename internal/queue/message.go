package queue

import (
	"encoding/json"
	"time"
)

// MessageVersion is the current outcome payload version.
const MessageVersion = 1

// Message announces a job reaching a terminal status.
type Message struct {
	JobID       string    `json:"jobId"`
	ScopeKey    string    `json:"scopeKey"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
	Version     int       `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
