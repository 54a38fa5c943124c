// Package peer adapts a pion WebRTC peer connection to the narrow surface
// the session machine consumes: local/remote descriptions, candidate
// discovery events, and one ordered, reliable data channel.
package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrNoChannel reports a send attempted before any data channel exists.
var ErrNoChannel = errors.New("peer: no data channel")

// DefaultICEServers is used when the caller configures none.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Config holds the configuration for creating a new Conn. Every hook may be
// nil; hooks fire on pion's internal goroutines.
type Config struct {
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger

	// OnCandidate is invoked once per locally discovered ICE candidate.
	OnCandidate func(webrtc.ICECandidateInit)
	// OnGatheringDone is invoked when the ICE agent finishes gathering.
	OnGatheringDone func()
	// OnChannelOpen and OnChannelClose track the data channel lifecycle,
	// whichever side opened it.
	OnChannelOpen  func()
	OnChannelClose func()
	// OnMessage is invoked with the raw bytes of each inbound frame.
	OnMessage func(data []byte)
}

// Conn wraps a single peer connection and the one message channel riding on
// it. The host side opens the channel before producing its offer; the guest
// side adopts the channel announced by the peer.
type Conn struct {
	pc     *webrtc.PeerConnection
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	channel *webrtc.DataChannel
}

// New creates and initializes a peer connection.
func New(cfg Config) (*Conn, error) {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Loopback candidates keep same-machine sessions working where
	// loopback is the only usable interface.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: cfg.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &Conn{pc: pc, cfg: cfg, logger: cfg.Logger}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			// nil is pion's end-of-gathering marker.
			if c.cfg.OnGatheringDone != nil {
				c.cfg.OnGatheringDone()
			}
			return
		}
		if c.cfg.OnCandidate != nil {
			c.cfg.OnCandidate(cand.ToJSON())
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.logger.Debug("adopting data channel opened by peer", "label", dc.Label())
		c.adopt(dc)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("peer connection state changed", "state", state.String())
	})

	return c, nil
}

// OpenChannel creates the ordered, reliable message channel. The host calls
// this before producing its offer so the channel is negotiated as part of
// the same handshake.
func (c *Conn) OpenChannel(label string) error {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("failed to create data channel %q: %w", label, err)
	}
	c.adopt(dc)
	return nil
}

// adopt installs dc as the session's message channel and wires its
// lifecycle and message callbacks.
func (c *Conn) adopt(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.channel = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Debug("data channel open", "label", dc.Label())
		if c.cfg.OnChannelOpen != nil {
			c.cfg.OnChannelOpen()
		}
	})
	dc.OnClose(func() {
		c.logger.Debug("data channel closed", "label", dc.Label())
		if c.cfg.OnChannelClose != nil {
			c.cfg.OnChannelClose()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg.Data)
		}
	})
}

// CreateOffer produces the local offer and applies it, which starts ICE
// candidate gathering.
func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer produces the local answer to an applied remote offer and
// applies it, which starts ICE candidate gathering.
func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return answer, nil
}

// SetRemote applies the peer's description.
func (c *Conn) SetRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddCandidate applies one remote ICE candidate.
func (c *Conn) AddCandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

// LocalDescription returns the current local description, including any
// candidates the ICE agent folded in after gathering, or nil if none is set.
func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

// ChannelOpen reports whether the message channel is open right now.
func (c *Conn) ChannelOpen() bool {
	c.mu.Lock()
	dc := c.channel
	c.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// SendText transmits one text frame over the message channel.
func (c *Conn) SendText(s string) error {
	c.mu.Lock()
	dc := c.channel
	c.mu.Unlock()
	if dc == nil {
		return ErrNoChannel
	}
	return dc.SendText(s)
}

// Close shuts down the data channel and the underlying connection.
func (c *Conn) Close() error {
	return c.pc.Close()
}
