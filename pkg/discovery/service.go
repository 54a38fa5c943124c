// Package discovery announces an open lobby on the local network over mDNS
// and lets a guest browse for it, as an alternative to pasting the offer
// token by hand. Records live only in multicast DNS; no server is involved
// and the exchange stays serverless.
package discovery

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ServiceType   = "_peerlink._tcp."
	DefaultDomain = "local."

	// DefaultPort is advertised because the service record requires one;
	// the connection itself is negotiated entirely through the token.
	DefaultPort = 4320

	// txtChunkSize keeps each TXT value under the mDNS per-string limit.
	// Tokens are larger than a single record allows, so they are split
	// across token0..tokenN keys and reassembled on the browse side.
	txtChunkSize = 200
)

// Lobby is one announced connection offer.
type Lobby struct {
	ID    string // instance identifier, unique per announcement
	Name  string // human-readable lobby name
	Token string // the offer token
}

// Result is one browse update: the current set of visible lobbies, or an
// error from the resolver.
type Result struct {
	Lobbies []Lobby
	Err     error
}

// lobbyTXT flattens a lobby into mDNS TXT key/value pairs.
func lobbyTXT(lobby Lobby) map[string]string {
	text := map[string]string{
		"id":   lobby.ID,
		"name": lobby.Name,
	}
	tok := lobby.Token
	for i := 0; len(tok) > 0; i++ {
		n := len(tok)
		if n > txtChunkSize {
			n = txtChunkSize
		}
		text[fmt.Sprintf("token%d", i)] = tok[:n]
		tok = tok[n:]
	}
	return text
}

// lobbyFromTXT reassembles a lobby from TXT pairs. A record with no token
// chunks yields an empty token; the caller decides whether that is usable.
func lobbyFromTXT(text map[string]string) Lobby {
	var sb strings.Builder
	for i := 0; ; i++ {
		chunk, ok := text[fmt.Sprintf("token%d", i)]
		if !ok {
			break
		}
		sb.WriteString(chunk)
	}
	return Lobby{
		ID:    text["id"],
		Name:  text["name"],
		Token: sb.String(),
	}
}

// sortLobbies orders a snapshot deterministically for display.
func sortLobbies(lobbies []Lobby) {
	sort.Slice(lobbies, func(i, j int) bool {
		if lobbies[i].Name != lobbies[j].Name {
			return lobbies[i].Name < lobbies[j].Name
		}
		return lobbies[i].ID < lobbies[j].ID
	})
}
