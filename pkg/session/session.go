// Package session implements the handshake state machine that turns two
// manually exchanged signaling tokens into an open, ordered message
// channel, plus the typed message dispatcher layered on top of it.
//
// The host calls CreateLobby and shares the returned offer token out of
// band. The guest feeds it to JoinFromToken and relays the returned answer
// token back. The host applies it with ApplyAnswerToken, and once the
// transport reports the channel open, both sides exchange typed messages
// through Send and the msg:<type> events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/peerlink/pkg/peer"
	"github.com/rescp17/peerlink/pkg/token"
)

// Role identifies which side of the handshake this process plays.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

// String provides a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// Phase is the lifecycle position of the active connection attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGatheringLocal
	PhaseAwaitingRemoteToken
	PhaseConnecting
	PhaseConnected
	PhaseClosed
	PhaseFailed
)

// String provides a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseGatheringLocal:
		return "GatheringLocal"
	case PhaseAwaitingRemoteToken:
		return "AwaitingRemoteToken"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	case PhaseClosed:
		return "Closed"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrNoSession reports an operation that requires an active connection
// attempt started by CreateLobby or JoinFromToken.
var ErrNoSession = errors.New("session: no active session")

// ChannelLabel is the label of the single message channel per session.
const ChannelLabel = "peerlink"

// Config holds the configuration for creating a Manager.
type Config struct {
	// ICEServers for the default transport. Empty means peer.DefaultICEServers.
	ICEServers []webrtc.ICEServer
	// GatherTimeout bounds candidate gathering per connection attempt.
	// Zero means DefaultGatherTimeout.
	GatherTimeout time.Duration
	// Factory overrides transport construction. Tests use this to inject a
	// fake; nil means a pion-backed transport.
	Factory Factory
	Logger  *slog.Logger
}

// Manager owns at most one active session and the event bus its consumers
// subscribe to. Starting a new session tears the previous one down first,
// so no two sessions are ever open concurrently.
type Manager struct {
	factory Factory
	timeout time.Duration
	logger  *slog.Logger
	bus     *bus
	disp    *dispatcher

	mu   sync.Mutex
	sess *state
}

// state is one connection attempt. A fresh state is created per attempt
// and never reused.
type state struct {
	role      Role
	phase     Phase
	transport Transport
	gather    *gatherer
	localSet  bool
	remoteSet bool
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.GatherTimeout
	if timeout == 0 {
		timeout = DefaultGatherTimeout
	}
	factory := cfg.Factory
	if factory == nil {
		servers := cfg.ICEServers
		factory = func(cb Callbacks) (Transport, error) {
			return peer.New(peer.Config{
				ICEServers:      servers,
				Logger:          logger,
				OnCandidate:     cb.Candidate,
				OnGatheringDone: cb.GatheringDone,
				OnChannelOpen:   cb.ChannelOpen,
				OnChannelClose:  cb.ChannelClose,
				OnMessage:       cb.Message,
			})
		}
	}

	b := newBus(logger)
	return &Manager{
		factory: factory,
		timeout: timeout,
		logger:  logger,
		bus:     b,
		disp:    &dispatcher{bus: b, logger: logger},
	}
}

// On subscribes a handler to a named event. See the Event* constants and
// MessageEventPrefix. Subscriptions survive session replacement.
func (m *Manager) On(name string, h Handler) {
	m.bus.on(name, h)
}

// Phase returns the phase of the active session, or PhaseIdle if there is
// none.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return PhaseIdle
	}
	return m.sess.phase
}

// Role returns the role of the active session, or RoleNone.
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return RoleNone
	}
	return m.sess.role
}

// Status is a snapshot of the active session for display purposes.
type Status struct {
	Role      Role
	Phase     Phase
	LocalSet  bool
	RemoteSet bool
}

// Status returns a snapshot of the active session, or a zero Status with
// PhaseIdle if there is none.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return Status{Phase: PhaseIdle}
	}
	return Status{
		Role:      m.sess.role,
		Phase:     m.sess.phase,
		LocalSet:  m.sess.localSet,
		RemoteSet: m.sess.remoteSet,
	}
}

// CreateLobby starts a host-role session, replacing any active one. It
// opens the message channel, produces the local offer, waits out the
// bounded candidate gather, and returns the offer token to hand to the
// guest. On success the session awaits the guest's answer token.
func (m *Manager) CreateLobby(ctx context.Context) (string, error) {
	s, err := m.startSession(RoleHost)
	if err != nil {
		return "", err
	}
	if err := s.transport.OpenChannel(ChannelLabel); err != nil {
		m.failSession(s, err)
		return "", fmt.Errorf("opening message channel: %w", err)
	}
	if _, err := s.transport.CreateOffer(); err != nil {
		m.failSession(s, err)
		return "", fmt.Errorf("creating offer: %w", err)
	}
	m.markLocal(s)

	tok, err := m.finishToken(ctx, s)
	if err != nil {
		return "", err
	}
	m.setPhase(s, PhaseAwaitingRemoteToken)
	m.bus.emit(Event{Name: EventLobbyCreated, Token: tok})
	return tok, nil
}

// JoinFromToken decodes the host's offer token and starts a guest-role
// session, returning the answer token to relay back. The token is decoded
// before any existing session is disturbed, so a malformed token leaves
// prior state untouched.
func (m *Manager) JoinFromToken(ctx context.Context, offerToken string) (string, error) {
	bundle, err := token.Decode(offerToken)
	if err != nil {
		return "", err
	}

	s, err := m.startSession(RoleGuest)
	if err != nil {
		return "", err
	}
	if err := s.transport.SetRemote(bundle.Desc); err != nil {
		m.failSession(s, err)
		return "", fmt.Errorf("applying offer description: %w", err)
	}
	m.markRemote(s)
	m.applyCandidates(s, bundle.Candidates)

	if _, err := s.transport.CreateAnswer(); err != nil {
		m.failSession(s, err)
		return "", fmt.Errorf("creating answer: %w", err)
	}
	m.markLocal(s)

	tok, err := m.finishToken(ctx, s)
	if err != nil {
		return "", err
	}
	m.setPhase(s, PhaseConnecting)
	m.bus.emit(Event{Name: EventAnswerCreated, Token: tok})
	return tok, nil
}

// ApplyAnswerToken applies the guest's answer to the session awaiting it
// and reports whether it was applied. Calling it again after the answer is
// in effect is a no-op returning false; calling it with no session (or one
// already closed or failed) returns ErrNoSession.
func (m *Manager) ApplyAnswerToken(answerToken string) (bool, error) {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return false, ErrNoSession
	}
	switch s.phase {
	case PhaseAwaitingRemoteToken:
	case PhaseConnecting, PhaseConnected:
		phase := s.phase
		m.mu.Unlock()
		m.logger.Debug("answer token ignored, already applied", "phase", phase.String())
		return false, nil
	default:
		m.mu.Unlock()
		return false, ErrNoSession
	}
	m.mu.Unlock()

	bundle, err := token.Decode(answerToken)
	if err != nil {
		return false, err
	}
	if err := s.transport.SetRemote(bundle.Desc); err != nil {
		return false, fmt.Errorf("applying answer description: %w", err)
	}
	m.markRemote(s)
	m.applyCandidates(s, bundle.Candidates)
	m.setPhase(s, PhaseConnecting)
	return true, nil
}

// Send frames payload as a typed message and transmits it over the open
// channel. It reports delivery and never returns an error; an absent or
// still-closed channel simply yields false.
func (m *Manager) Send(msgType string, payload any) bool {
	m.mu.Lock()
	var t Transport
	if m.sess != nil {
		t = m.sess.transport
	}
	m.mu.Unlock()
	return m.disp.send(t, msgType, payload)
}

// Close tears down the active session, if any: the channel, the underlying
// connection, and the candidate buffer. Safe to call any number of times
// and from any phase; subscribers get one close event per torn-down
// session.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	if s != nil {
		s.phase = PhaseClosed
	}
	m.mu.Unlock()
	if s == nil {
		return
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			m.logger.Warn("closing transport", "error", err)
		}
	}
	// Release any pending gather wait; finishToken discards its result
	// once the session is no longer the active one.
	s.gather.markComplete()
	m.bus.emit(Event{Name: EventClose})
}

// startSession replaces the active session with a fresh one in the given
// role. The previous session is fully closed and released first.
func (m *Manager) startSession(role Role) (*state, error) {
	m.Close()

	s := &state{role: role, phase: PhaseGatheringLocal, gather: newGatherer()}
	cb := Callbacks{
		Candidate:     s.gather.add,
		GatheringDone: s.gather.markComplete,
		ChannelOpen:   func() { m.channelOpened(s) },
		ChannelClose:  func() { m.channelClosed(s) },
		Message:       func(data []byte) { m.inbound(s, data) },
	}
	t, err := m.factory(cb)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	s.transport = t

	m.mu.Lock()
	m.sess = s
	m.mu.Unlock()
	return s, nil
}

// finishToken waits out the bounded candidate gather and packages the final
// local description plus the gathered candidates into a token. If the
// session was replaced while waiting, the result is discarded.
func (m *Manager) finishToken(ctx context.Context, s *state) (string, error) {
	cands := s.gather.wait(ctx, m.timeout)

	m.mu.Lock()
	active := m.sess == s
	m.mu.Unlock()
	if !active {
		return "", ErrNoSession
	}

	desc := s.transport.LocalDescription()
	if desc == nil {
		m.failSession(s, errors.New("no local description after gathering"))
		return "", errors.New("session: no local description after gathering")
	}
	tok, err := token.Encode(token.Bundle{Desc: *desc, Candidates: cands})
	if err != nil {
		m.failSession(s, err)
		return "", err
	}
	return tok, nil
}

// applyCandidates is best-effort: a single candidate that fails to apply is
// logged and skipped, because the others may still complete the connection.
func (m *Manager) applyCandidates(s *state, cands []webrtc.ICECandidateInit) {
	for _, c := range cands {
		if err := s.transport.AddCandidate(c); err != nil {
			m.logger.Warn("skipping candidate that failed to apply", "error", err)
		}
	}
}

// channelOpened handles the transport's channel-open notification.
func (m *Manager) channelOpened(s *state) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	s.phase = PhaseConnected
	m.mu.Unlock()
	m.bus.emit(Event{Name: EventOpen})
}

// channelClosed handles the transport's channel-close notification.
func (m *Manager) channelClosed(s *state) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	s.phase = PhaseClosed
	m.mu.Unlock()
	m.bus.emit(Event{Name: EventClose})
}

// inbound routes a raw frame to the dispatcher, but only while the session
// that received it is still the active one.
func (m *Manager) inbound(s *state, data []byte) {
	m.mu.Lock()
	active := m.sess == s
	m.mu.Unlock()
	if !active {
		return
	}
	m.disp.handleFrame(data)
}

// failSession marks the attempt failed and releases its transport. The
// failed session stays observable through Phase until the next attempt
// replaces it.
func (m *Manager) failSession(s *state, err error) {
	m.mu.Lock()
	if m.sess == s {
		s.phase = PhaseFailed
	}
	m.mu.Unlock()
	if s.transport != nil {
		if closeErr := s.transport.Close(); closeErr != nil {
			m.logger.Warn("closing transport of failed session", "error", closeErr)
		}
	}
	m.logger.Error("connection attempt failed", "role", s.role.String(), "error", err)
}

func (m *Manager) setPhase(s *state, p Phase) {
	m.mu.Lock()
	if m.sess == s {
		s.phase = p
	}
	m.mu.Unlock()
}

func (m *Manager) markLocal(s *state) {
	m.mu.Lock()
	if m.sess == s {
		s.localSet = true
	}
	m.mu.Unlock()
}

func (m *Manager) markRemote(s *state) {
	m.mu.Lock()
	if m.sess == s {
		s.remoteSet = true
	}
	m.mu.Unlock()
}
