package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/rescp17/peerlink/pkg/session"
	"github.com/rescp17/peerlink/pkg/ui"
)

var version = "dev"

func main() {
	f, _ := os.OpenFile("debug.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close log file", "error", err)
		}
	}()
	log.SetOutput(f)
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))

	var (
		stunServers []string
		timeout     time.Duration
		shareBase   string
	)
	cmd := &cobra.Command{
		Use:   "peerlink",
		Short: "Peer-to-peer chat over WebRTC with copy-paste signaling",
	}

	cmd.PersistentFlags().StringSliceVar(&stunServers, "stun", nil, "STUN server URLs (default: Google STUN)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", session.DefaultGatherTimeout, "How long to wait for ICE candidates")
	cmd.PersistentFlags().StringVar(&shareBase, "share-base", "", "Base URL for share links carrying the token in the fragment")

	newManager := func() *session.Manager {
		var servers []webrtc.ICEServer
		if len(stunServers) > 0 {
			servers = []webrtc.ICEServer{{URLs: stunServers}}
		}
		return session.NewManager(session.Config{
			ICEServers:    servers,
			GatherTimeout: timeout,
		})
	}

	runTUI := func(opts ui.Options) {
		p := tea.NewProgram(ui.InitialModel(opts))
		if _, err := p.Run(); err != nil {
			fmt.Printf("Alas, there's been an error: %v", err)
			os.Exit(1)
		}
	}

	var (
		announce  bool
		lobbyName string
	)
	hostCmd := &cobra.Command{
		Use:   "host",
		Short: "Create a lobby and print the offer token to share",
		Run: func(cmd *cobra.Command, args []string) {
			runTUI(ui.Options{
				Manager:   newManager(),
				Mode:      ui.Host,
				Announce:  announce,
				LobbyName: lobbyName,
				ShareBase: shareBase,
			})
		},
	}
	hostCmd.Flags().BoolVar(&announce, "announce", false, "Advertise the lobby on the local network over mDNS")
	hostCmd.Flags().StringVar(&lobbyName, "name", "", "Lobby name shown to browsing guests")

	var browse bool
	joinCmd := &cobra.Command{
		Use:   "join [token|url]",
		Short: "Join a lobby from an offer token or share URL",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !browse && len(args) == 0 {
				fmt.Println("provide an offer token, a share URL, or --browse")
				os.Exit(1)
			}
			var offer string
			if len(args) == 1 {
				offer = args[0]
			}
			runTUI(ui.Options{
				Manager:    newManager(),
				Mode:       ui.Join,
				OfferToken: offer,
				Browse:     browse,
				ShareBase:  shareBase,
			})
		},
	}
	joinCmd.Flags().BoolVar(&browse, "browse", false, "Pick a lobby announced on the local network")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the peerlink version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("peerlink", version)
		},
	}

	cmd.AddCommand(hostCmd)
	cmd.AddCommand(joinCmd)
	cmd.AddCommand(versionCmd)

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}
