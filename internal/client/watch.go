package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/dom/genstudio/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	EventGenerationCreated  = "GENERATION_CREATED"
	EventHistoryInvalidated = "HISTORY_INVALIDATED"
)

// Event is one push message from the server.
type Event struct {
	Type       string
	Generation *Generation
	Reason     string
}

type wireMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Watch streams push events for token's owner to fn until ctx is cancelled or
// the connection drops.
func (c *APIClient) Watch(ctx context.Context, token string, fn func(Event)) error {
	const op = "client.Watch"

	wsURL, err := c.WebSocketURL(token)
	if err != nil {
		return domain.WrapError(domain.KindInternal, op, "invalid url", err)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return errorFromResponse(op, resp)
		}
		return transportError(ctx, op, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return domain.WrapError(domain.KindInternal, op, "connection lost", err)
		}

		event, err := decodeEvent(data)
		if err != nil {
			log.Printf("WARN [client.Watch] skipping message: %v", err)
			continue
		}
		fn(event)
	}
}

func decodeEvent(data []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, err
	}

	event := Event{Type: msg.Type}
	switch msg.Type {
	case EventGenerationCreated:
		var payload struct {
			Generation *Generation `json:"generation"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return Event{}, err
		}
		if payload.Generation == nil {
			return Event{}, errors.New("generation missing from payload")
		}
		event.Generation = payload.Generation
	case EventHistoryInvalidated:
		var payload struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return Event{}, err
		}
		event.Reason = payload.Reason
	}
	return event, nil
}
