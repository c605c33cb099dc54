package websocket

import (
	"encoding/json"
	"time"

	"github.com/dom/genstudio/internal/domain"
)

type MessageType string

const (
	// Server to Client
	MessageTypeGenerationCreated  MessageType = "GENERATION_CREATED"
	MessageTypeHistoryInvalidated MessageType = "HISTORY_INVALIDATED"
	MessageTypeError              MessageType = "ERROR"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Server to Client payloads

type GenerationCreatedPayload struct {
	Generation *domain.Generation `json:"generation"`
}

type HistoryInvalidatedPayload struct {
	Reason string `json:"reason"`
}

// ErrorCodeReadOnly is reported when a client writes to the push channel.
const ErrorCodeReadOnly = "READ_ONLY"

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
