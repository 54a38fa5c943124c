package session

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Envelope wraps every application-level message sent over the channel.
// Timestamp is Unix milliseconds at send time.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// dispatcher frames outgoing payloads and routes inbound frames to
// subscribers by message type.
type dispatcher struct {
	bus    *bus
	logger *slog.Logger
}

// send frames payload and transmits it over t. It reports delivery with a
// boolean and never returns an error: an absent or not-yet-open channel is
// an expected, frequent condition rather than a failure.
func (d *dispatcher) send(t Transport, msgType string, payload any) bool {
	if t == nil || !t.ChannelOpen() {
		return false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("dropping outbound message with unmarshalable payload", "type", msgType, "error", err)
		return false
	}
	frame, err := json.Marshal(Envelope{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		d.logger.Warn("dropping outbound message", "type", msgType, "error", err)
		return false
	}
	if err := t.SendText(string(frame)); err != nil {
		d.logger.Warn("send over channel failed", "type", msgType, "error", err)
		return false
	}
	return true
}

// handleFrame parses one inbound frame and fires the generic message event
// followed immediately by the type-scoped event, before the next frame is
// processed. A malformed frame is logged and dropped; it fires nothing and
// never stalls later frames.
func (d *dispatcher) handleFrame(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.logger.Warn("dropping malformed inbound frame", "error", err)
		return
	}
	d.bus.emit(Event{Name: EventMessage, Envelope: &env})
	d.bus.emit(Event{Name: MessageEventPrefix + env.Type, Payload: env.Payload})
}
