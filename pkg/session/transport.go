package session

import "github.com/pion/webrtc/v4"

// Transport is the narrow capability surface the session machine needs from
// the underlying peer connection. The production implementation is
// peer.Conn; tests substitute an in-memory fake.
type Transport interface {
	// OpenChannel creates the ordered, reliable channel used for messages.
	// Only the host calls it; the guest adopts the channel the peer opened.
	OpenChannel(label string) error
	// CreateOffer produces and applies the local offer description, which
	// starts candidate gathering.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer produces and applies the local answer description.
	CreateAnswer() (webrtc.SessionDescription, error)
	// SetRemote applies the peer's description.
	SetRemote(desc webrtc.SessionDescription) error
	// AddCandidate applies one remote ICE candidate.
	AddCandidate(c webrtc.ICECandidateInit) error
	// LocalDescription returns the current local description, or nil if
	// none has been applied yet.
	LocalDescription() *webrtc.SessionDescription
	// ChannelOpen reports whether the message channel is open right now.
	ChannelOpen() bool
	// SendText transmits one text frame over the open channel.
	SendText(s string) error
	// Close tears down the channel and the connection. Idempotent.
	Close() error
}

// Callbacks carries the event hooks a Transport invokes as the handshake
// progresses. Any field may be nil.
type Callbacks struct {
	// Candidate fires once per locally discovered ICE candidate.
	Candidate func(webrtc.ICECandidateInit)
	// GatheringDone fires when the transport reports that candidate
	// gathering finished.
	GatheringDone func()
	// ChannelOpen and ChannelClose track the message channel lifecycle.
	ChannelOpen  func()
	ChannelClose func()
	// Message fires for every raw inbound frame.
	Message func(data []byte)
}

// Factory builds a Transport wired to the given callbacks. One transport is
// created per connection attempt and discarded with it.
type Factory func(cb Callbacks) (Transport, error)
