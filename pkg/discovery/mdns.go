package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/dnssd"
)

// Announce publishes the lobby on the local network until ctx is cancelled.
// Cancellation is the normal way to stop announcing and is not an error.
func Announce(ctx context.Context, lobby Lobby) error {
	cfg := dnssd.Config{
		Name:   lobby.ID,
		Type:   ServiceType,
		Domain: DefaultDomain,
		// mDNS multicasts to the local network, so explicit IPs are not needed.
		IPs:  nil,
		Text: lobbyTXT(lobby),
		Port: DefaultPort,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	if err = rp.Respond(ctx); err != nil {
		if err == context.Canceled {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS queries: %w", err)
	}
	return nil
}

// Browse watches the local network for announced lobbies and sends a
// snapshot on every change. The channel closes when ctx is cancelled.
func Browse(ctx context.Context) <-chan Result {
	var (
		mu      sync.Mutex
		entries = make(map[string]Lobby)
		outCh   = make(chan Result, 10)
	)

	sendSnapshot := func() {
		mu.Lock()
		snapshot := make([]Lobby, 0, len(entries))
		for _, entry := range entries {
			snapshot = append(snapshot, entry)
		}
		mu.Unlock()
		sortLobbies(snapshot)
		select {
		case outCh <- Result{Lobbies: snapshot}:
		default:
		}
	}

	addFn := func(e dnssd.BrowseEntry) {
		lobby := lobbyFromTXT(e.Text)
		if lobby.Token == "" {
			// A record without token chunks is not joinable.
			return
		}
		mu.Lock()
		entries[e.Name] = lobby
		mu.Unlock()
		sendSnapshot()
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(entries, e.Name)
		mu.Unlock()
		sendSnapshot()
	}

	go func() {
		defer close(outCh)
		if err := dnssd.LookupType(ctx, ServiceType, addFn, rmvFn); err != nil && err != context.Canceled {
			select {
			case outCh <- Result{Err: fmt.Errorf("mDNS lookup failed: %w", err)}:
			default:
			}
		}
	}()

	return outCh
}
