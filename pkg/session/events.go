package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Event names routed through the session bus. Inbound messages additionally
// fire a type-scoped event per frame; see MessageEventPrefix.
const (
	EventLobbyCreated  = "lobbyCreated"
	EventAnswerCreated = "answerCreated"
	EventOpen          = "open"
	EventClose         = "close"
	EventMessage       = "message"
)

// MessageEventPrefix scopes per-type message events: a frame of type "chat"
// fires "msg:chat" with just the payload, so subscribers don't filter the
// generic stream themselves.
const MessageEventPrefix = "msg:"

// Event is delivered to subscribers. Fields are populated by event name:
// Token for lobbyCreated and answerCreated, Envelope for message, Payload
// for msg:<type>. The connectivity events carry nothing extra.
type Event struct {
	Name     string
	Token    string
	Envelope *Envelope
	Payload  json.RawMessage
}

// Handler consumes one event. Handlers run synchronously in registration
// order; a panicking handler is logged and skipped so it cannot block
// delivery to the others.
type Handler func(Event)

// bus is a name-keyed subscriber registry. Connectivity state and
// application messages share it, so one subscription mechanism serves both.
type bus struct {
	mu     sync.Mutex
	subs   map[string][]Handler
	logger *slog.Logger
}

func newBus(logger *slog.Logger) *bus {
	return &bus{subs: make(map[string][]Handler), logger: logger}
}

func (b *bus) on(name string, h Handler) {
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], h)
	b.mu.Unlock()
}

func (b *bus) emit(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.subs[ev.Name]))
	copy(handlers, b.subs[ev.Name])
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(ev, h)
	}
}

func (b *bus) deliver(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", ev.Name, "panic", fmt.Sprint(r))
		}
	}()
	h(ev)
}
