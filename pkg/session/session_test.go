package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/peerlink/pkg/token"
)

// fakeTransport is an in-memory Transport. Creating a description feeds the
// configured candidates through the callbacks synchronously, so tests never
// wait out the gather timeout unless they ask to.
type fakeTransport struct {
	cb      Callbacks
	factory *fakeFactory

	mu          sync.Mutex
	openedLabel string
	localDesc   *webrtc.SessionDescription
	remoteDescs []webrtc.SessionDescription
	added       []webrtc.ICECandidateInit
	channelUp   bool
	sent        []string
	closeCalls  int
}

// fakeFactory builds fakeTransports and keeps them for inspection.
type fakeFactory struct {
	mu   sync.Mutex
	made []*fakeTransport

	gatherCandidates []webrtc.ICECandidateInit
	neverComplete    bool
	badCandidate     string
	offerErr         error
	sendErr          error
	factoryErr       error
}

func (f *fakeFactory) new(cb Callbacks) (Transport, error) {
	if f.factoryErr != nil {
		return nil, f.factoryErr
	}
	ft := &fakeTransport{cb: cb, factory: f}
	f.mu.Lock()
	f.made = append(f.made, ft)
	f.mu.Unlock()
	return ft, nil
}

// last returns the most recently built transport.
func (f *fakeFactory) last(t *testing.T) *fakeTransport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.made, "no transport was created")
	return f.made[len(f.made)-1]
}

func (ft *fakeTransport) OpenChannel(label string) error {
	ft.mu.Lock()
	ft.openedLabel = label
	ft.mu.Unlock()
	return nil
}

func (ft *fakeTransport) createLocal(kind webrtc.SDPType, sdp string) (webrtc.SessionDescription, error) {
	if ft.factory.offerErr != nil {
		return webrtc.SessionDescription{}, ft.factory.offerErr
	}
	desc := webrtc.SessionDescription{Type: kind, SDP: sdp}
	ft.mu.Lock()
	ft.localDesc = &desc
	ft.mu.Unlock()
	for _, c := range ft.factory.gatherCandidates {
		if ft.cb.Candidate != nil {
			ft.cb.Candidate(c)
		}
	}
	if !ft.factory.neverComplete && ft.cb.GatheringDone != nil {
		ft.cb.GatheringDone()
	}
	return desc, nil
}

func (ft *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return ft.createLocal(webrtc.SDPTypeOffer, "v=0 fake offer")
}

func (ft *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return ft.createLocal(webrtc.SDPTypeAnswer, "v=0 fake answer")
}

func (ft *fakeTransport) SetRemote(desc webrtc.SessionDescription) error {
	ft.mu.Lock()
	ft.remoteDescs = append(ft.remoteDescs, desc)
	ft.mu.Unlock()
	return nil
}

func (ft *fakeTransport) AddCandidate(c webrtc.ICECandidateInit) error {
	if c.Candidate == ft.factory.badCandidate {
		return errors.New("candidate rejected")
	}
	ft.mu.Lock()
	ft.added = append(ft.added, c)
	ft.mu.Unlock()
	return nil
}

func (ft *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.localDesc
}

func (ft *fakeTransport) ChannelOpen() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.channelUp
}

func (ft *fakeTransport) setChannelOpen(up bool) {
	ft.mu.Lock()
	ft.channelUp = up
	ft.mu.Unlock()
}

func (ft *fakeTransport) SendText(s string) error {
	if ft.factory.sendErr != nil {
		return ft.factory.sendErr
	}
	ft.mu.Lock()
	ft.sent = append(ft.sent, s)
	ft.mu.Unlock()
	return nil
}

func (ft *fakeTransport) sentFrames() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]string, len(ft.sent))
	copy(out, ft.sent)
	return out
}

func (ft *fakeTransport) Close() error {
	ft.mu.Lock()
	ft.closeCalls++
	ft.channelUp = false
	ft.mu.Unlock()
	return nil
}

func newTestManager(f *fakeFactory) *Manager {
	return NewManager(Config{
		Factory:       f.new,
		GatherTimeout: 100 * time.Millisecond,
		Logger:        slog.Default(),
	})
}

func hostCandidates() []webrtc.ICECandidateInit {
	return []webrtc.ICECandidateInit{
		{Candidate: "candidate:1 1 udp 2130706431 192.168.1.10 51000 typ host"},
		{Candidate: "candidate:2 1 udp 1694498815 203.0.113.7 61000 typ srflx"},
	}
}

func validAnswerToken(t *testing.T) string {
	t.Helper()
	tok, err := token.Encode(token.Bundle{
		Desc:       webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 guest answer"},
		Candidates: []webrtc.ICECandidateInit{{Candidate: "candidate:9 1 udp 1 10.0.0.9 4000 typ host"}},
	})
	require.NoError(t, err)
	return tok
}

func TestCreateLobbyProducesOfferToken(t *testing.T) {
	f := &fakeFactory{gatherCandidates: hostCandidates()}
	m := newTestManager(f)

	var created []string
	m.On(EventLobbyCreated, func(ev Event) { created = append(created, ev.Token) })

	tok, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	bundle, err := token.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, bundle.Desc.Type)
	assert.Len(t, bundle.Candidates, 2)

	assert.Equal(t, PhaseAwaitingRemoteToken, m.Phase())
	assert.Equal(t, RoleHost, m.Role())
	assert.Equal(t, ChannelLabel, f.last(t).openedLabel)
	assert.Equal(t, []string{tok}, created)
}

func TestStatusSnapshot(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	assert.Equal(t, Status{Phase: PhaseIdle}, m.Status())

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)
	st := m.Status()
	assert.Equal(t, RoleHost, st.Role)
	assert.Equal(t, PhaseAwaitingRemoteToken, st.Phase)
	assert.True(t, st.LocalSet)
	assert.False(t, st.RemoteSet)

	applied, err := m.ApplyAnswerToken(validAnswerToken(t))
	require.NoError(t, err)
	require.True(t, applied)
	st = m.Status()
	assert.Equal(t, PhaseConnecting, st.Phase)
	assert.True(t, st.RemoteSet)
}

func TestCreateLobbyGatherTimeoutIsNotAnError(t *testing.T) {
	f := &fakeFactory{gatherCandidates: hostCandidates(), neverComplete: true}
	m := newTestManager(f)

	start := time.Now()
	tok, err := m.CreateLobby(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	bundle, err := token.Decode(tok)
	require.NoError(t, err)
	assert.Len(t, bundle.Candidates, 2, "candidates buffered before the cutoff make it into the token")
}

func TestCreateLobbySurfacesTransportFailure(t *testing.T) {
	f := &fakeFactory{offerErr: errors.New("no codecs")}
	m := newTestManager(f)

	_, err := m.CreateLobby(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, m.Phase())
	assert.Equal(t, 1, f.last(t).closeCalls)
}

func TestCreateLobbyReplacesActiveSession(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)
	first := f.last(t)

	_, err = m.CreateLobby(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.closeCalls, "previous session's transport must be released")
	assert.Len(t, f.made, 2)
}

func TestJoinFromTokenProducesAnswerToken(t *testing.T) {
	offer, err := token.Encode(token.Bundle{
		Desc:       webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 host offer"},
		Candidates: hostCandidates(),
	})
	require.NoError(t, err)

	f := &fakeFactory{}
	m := newTestManager(f)

	var created []string
	m.On(EventAnswerCreated, func(ev Event) { created = append(created, ev.Token) })

	answer, err := m.JoinFromToken(context.Background(), offer)
	require.NoError(t, err)

	bundle, err := token.Decode(answer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, bundle.Desc.Type)

	ft := f.last(t)
	require.Len(t, ft.remoteDescs, 1)
	assert.Equal(t, "v=0 host offer", ft.remoteDescs[0].SDP)
	assert.Len(t, ft.added, 2, "offer candidates are applied")

	assert.Equal(t, PhaseConnecting, m.Phase())
	assert.Equal(t, RoleGuest, m.Role())
	assert.Equal(t, []string{answer}, created)
}

func TestJoinFromTokenRejectsGarbage(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	_, err := m.JoinFromToken(context.Background(), "not-base64!!")
	require.Error(t, err)
	assert.True(t, errors.Is(err, token.ErrDecode))
	assert.Equal(t, PhaseIdle, m.Phase(), "a bad token must not disturb session state")
	assert.Empty(t, f.made)
}

func TestJoinFromTokenRejectsTokenWithoutDescription(t *testing.T) {
	// Encode does not validate shape; Decode does.
	tok, err := token.Encode(token.Bundle{Candidates: hostCandidates()})
	require.NoError(t, err)

	f := &fakeFactory{}
	m := newTestManager(f)

	_, err = m.JoinFromToken(context.Background(), tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, token.ErrShape))
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestJoinSkipsCandidatesThatFailToApply(t *testing.T) {
	cands := hostCandidates()
	offer, err := token.Encode(token.Bundle{
		Desc:       webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 host offer"},
		Candidates: cands,
	})
	require.NoError(t, err)

	f := &fakeFactory{badCandidate: cands[0].Candidate}
	m := newTestManager(f)

	_, err = m.JoinFromToken(context.Background(), offer)
	require.NoError(t, err, "one bad candidate must not fail the attempt")
	assert.Len(t, f.last(t).added, 1)
}

func TestApplyAnswerTokenRequiresSession(t *testing.T) {
	m := newTestManager(&fakeFactory{})

	ok, err := m.ApplyAnswerToken(validAnswerToken(t))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestApplyAnswerToken(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	ok, err := m.ApplyAnswerToken(validAnswerToken(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PhaseConnecting, m.Phase())

	ft := f.last(t)
	require.Len(t, ft.remoteDescs, 1)
	assert.Equal(t, "v=0 guest answer", ft.remoteDescs[0].SDP)
	assert.Len(t, ft.added, 1)
}

func TestApplyAnswerTokenTwiceIsANoOp(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	tok := validAnswerToken(t)
	ok, err := m.ApplyAnswerToken(tok)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.ApplyAnswerToken(tok)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, PhaseConnecting, m.Phase())
	assert.Len(t, f.last(t).remoteDescs, 1, "second apply must not touch the transport")
}

func TestApplyAnswerTokenRejectsMalformedToken(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	ok, err := m.ApplyAnswerToken("garbage")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, token.ErrDecode))
	assert.Equal(t, PhaseAwaitingRemoteToken, m.Phase(), "session keeps awaiting a valid answer")
}

func TestCloseIsIdempotent(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	var closes int
	m.On(EventClose, func(Event) { closes++ })

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	m.Close()
	m.Close()
	m.Close()

	assert.Equal(t, 1, f.last(t).closeCalls)
	assert.Equal(t, 1, closes, "one close notification per torn-down session")
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestCloseFromIdleIsSafe(t *testing.T) {
	m := newTestManager(&fakeFactory{})
	assert.NotPanics(t, m.Close)
}

func TestChannelOpenMovesSessionToConnected(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	var opened int
	m.On(EventOpen, func(Event) { opened++ })

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	ft := f.last(t)
	ft.setChannelOpen(true)
	ft.cb.ChannelOpen()

	assert.Equal(t, PhaseConnected, m.Phase())
	assert.Equal(t, 1, opened)
}

func TestChannelCloseEvent(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	var closes int
	m.On(EventClose, func(Event) { closes++ })

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	ft := f.last(t)
	ft.cb.ChannelClose()

	assert.Equal(t, PhaseClosed, m.Phase())
	assert.Equal(t, 1, closes)
}

func TestSendWithoutOpenChannelReturnsFalse(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	assert.False(t, m.Send("chat", map[string]string{"text": "hi"}), "no session at all")

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Send("chat", map[string]string{"text": "hi"}), "channel not open yet")
	assert.Empty(t, f.last(t).sentFrames())
}

func TestSendDeliversEnvelope(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)
	ft := f.last(t)
	ft.setChannelOpen(true)

	before := time.Now().UnixMilli()
	require.True(t, m.Send("chat", map[string]string{"text": "hi"}))

	frames := ft.sentFrames()
	require.Len(t, frames, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &env))
	assert.Equal(t, "chat", env.Type)
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Payload))
	assert.GreaterOrEqual(t, env.Timestamp, before)
}

func TestSendReportsTransportFailureAsFalse(t *testing.T) {
	f := &fakeFactory{sendErr: errors.New("wire torn")}
	m := newTestManager(f)

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)
	f.last(t).setChannelOpen(true)

	assert.False(t, m.Send("chat", map[string]string{"text": "hi"}))
}

func TestInboundFramesPreserveOrderAcrossEvents(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	var order []string
	m.On(EventMessage, func(ev Event) {
		order = append(order, "message:"+ev.Envelope.Type)
	})
	m.On("msg:chat", func(ev Event) {
		order = append(order, "scoped:"+string(ev.Payload))
	})

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)
	ft := f.last(t)

	for i := 0; i < 3; i++ {
		frame, err := json.Marshal(Envelope{
			Type:      "chat",
			Payload:   json.RawMessage(fmt.Sprintf(`"m%d"`, i)),
			Timestamp: time.Now().UnixMilli(),
		})
		require.NoError(t, err)
		ft.cb.Message(frame)
	}

	assert.Equal(t, []string{
		"message:chat", `scoped:"m0"`,
		"message:chat", `scoped:"m1"`,
		"message:chat", `scoped:"m2"`,
	}, order)
}

func TestMalformedInboundFrameIsDropped(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	var events int
	m.On(EventMessage, func(Event) { events++ })

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() { f.last(t).cb.Message([]byte("{not json")) })
	assert.Zero(t, events, "no message event fires for a dropped frame")
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)

	var delivered bool
	m.On(EventMessage, func(Event) { panic("boom") })
	m.On(EventMessage, func(Event) { delivered = true })

	_, err := m.CreateLobby(context.Background())
	require.NoError(t, err)

	frame, err := json.Marshal(Envelope{Type: "chat", Payload: json.RawMessage(`"hi"`)})
	require.NoError(t, err)
	assert.NotPanics(t, func() { f.last(t).cb.Message(frame) })
	assert.True(t, delivered)
}

// TestHandshakeScenario walks the full host/guest exchange over two fake
// transports whose channels are bridged once both descriptions are in
// place.
func TestHandshakeScenario(t *testing.T) {
	hostFactory := &fakeFactory{gatherCandidates: hostCandidates()}
	guestFactory := &fakeFactory{}
	host := newTestManager(hostFactory)
	guest := newTestManager(guestFactory)

	var hostOpen, guestOpen bool
	host.On(EventOpen, func(Event) { hostOpen = true })
	guest.On(EventOpen, func(Event) { guestOpen = true })

	offerToken, err := host.CreateLobby(context.Background())
	require.NoError(t, err)

	answerToken, err := guest.JoinFromToken(context.Background(), offerToken)
	require.NoError(t, err)

	ok, err := host.ApplyAnswerToken(answerToken)
	require.NoError(t, err)
	require.True(t, ok)

	// The transport reports the channel open on both ends.
	hostConn := hostFactory.last(t)
	guestConn := guestFactory.last(t)
	hostConn.setChannelOpen(true)
	guestConn.setChannelOpen(true)
	hostConn.cb.ChannelOpen()
	guestConn.cb.ChannelOpen()

	assert.True(t, hostOpen)
	assert.True(t, guestOpen)
	assert.Equal(t, PhaseConnected, host.Phase())
	assert.Equal(t, PhaseConnected, guest.Phase())

	// Bridge: frames sent by the host arrive at the guest.
	var got []string
	guest.On("msg:chat", func(ev Event) { got = append(got, string(ev.Payload)) })

	require.True(t, host.Send("chat", "hello"))
	for _, frame := range hostConn.sentFrames() {
		guestConn.cb.Message([]byte(frame))
	}
	assert.Equal(t, []string{`"hello"`}, got)
}
