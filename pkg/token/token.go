// Package token implements the opaque signaling token two peers exchange
// out-of-band (copy/paste, chat, a shared URL) to establish a direct
// connection without any signaling server.
//
// A token is the base64 encoding of the UTF-8 JSON text of a Bundle: one
// session description plus every ICE candidate gathered for it. The format
// is fixed; changing it breaks interop with older tokens.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrDecode reports input that is not valid base64 or does not decode
	// to JSON.
	ErrDecode = errors.New("token: malformed token")

	// ErrShape reports a structurally valid token that carries no session
	// description.
	ErrShape = errors.New("token: missing session description")
)

// Bundle is the decoded content of a signaling token. An offer token and an
// answer token share the same shape; only the description type differs.
type Bundle struct {
	Desc       webrtc.SessionDescription `json:"desc"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

// Encode serializes the bundle to a transport-safe opaque string.
func Encode(b Bundle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signaling bundle: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode. Malformed input yields ErrDecode; a well-formed
// bundle without a session description yields ErrShape. An empty candidate
// list is valid: gathering may legitimately produce nothing before the
// cutoff.
func Decode(tok string) (Bundle, error) {
	data, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b.Desc.SDP == "" {
		return Bundle{}, ErrShape
	}
	return b, nil
}
