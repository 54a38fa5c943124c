// Package ui implements the terminal front end: it drives the session
// manager through the manual token exchange and then presents a small chat
// over the open channel. It is strictly a consumer of the session API; all
// handshake logic lives in pkg/session.
package ui

import (
	"context"
	"log/slog"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/peerlink/internal/style"
	"github.com/rescp17/peerlink/pkg/discovery"
	"github.com/rescp17/peerlink/pkg/session"
)

// Mode selects which side of the handshake this process plays.
type Mode int

const (
	Host Mode = iota + 1
	Join
)

// Options configures the TUI.
type Options struct {
	Manager *session.Manager
	Mode    Mode

	// OfferToken is the token or share URL passed on the command line in
	// join mode. Ignored when Browse is set.
	OfferToken string
	// Announce advertises the lobby over mDNS while hosting.
	Announce bool
	// Browse picks a lobby from the local network instead of pasting.
	Browse bool
	// LobbyName labels the announced lobby.
	LobbyName string
	// ShareBase is the base URL embedded in share links.
	ShareBase string
}

// uiState defines the different states of the UI.
type uiState int

const (
	stateWorking uiState = iota
	stateBrowsing
	stateShowToken
	stateChatting
	stateDone
	stateFailed
)

type model struct {
	opts  Options
	state uiState

	spinner  spinner.Model
	input    textinput.Model
	viewport viewport.Model
	ready    bool
	width    int
	height   int

	token     string // the token currently on display
	shareURL  string
	copied    bool
	status    string
	chatlog   []string
	lobbies   []discovery.Lobby
	cursor    int
	lastError error

	events   chan session.Event
	browseCh <-chan discovery.Result

	ctx    context.Context
	cancel context.CancelFunc
}

// Messages produced by commands.
type (
	offerReadyMsg    struct{ token string }
	answerReadyMsg   struct{ token string }
	handshakeErrMsg  struct{ err error }
	answerAppliedMsg struct {
		applied bool
		err     error
	}
	sessionEventMsg struct{ ev session.Event }
	browseMsg       struct{ result discovery.Result }
	clipboardMsg    struct{ err error }
)

// InitialModel builds the TUI model and subscribes it to session events.
func InitialModel(opts Options) model {
	ctx, cancel := context.WithCancel(context.Background())

	input := textinput.New()
	input.CharLimit = 0
	input.Width = 60

	m := model{
		opts:    opts,
		state:   stateWorking,
		spinner: style.NewSpinner(),
		input:   input,
		events:  make(chan session.Event, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.Mode == Join && opts.Browse {
		m.state = stateBrowsing
		m.browseCh = discovery.Browse(ctx)
	}

	forward := func(ev session.Event) {
		select {
		case m.events <- ev:
		default:
			slog.Warn("dropping session event, UI queue full", "event", ev.Name)
		}
	}
	opts.Manager.On(session.EventOpen, forward)
	opts.Manager.On(session.EventClose, forward)
	opts.Manager.On(session.MessageEventPrefix+"chat", forward)
	opts.Manager.On(session.MessageEventPrefix+"file", forward)

	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.waitForEvent()}
	switch {
	case m.opts.Mode == Host:
		cmds = append(cmds, m.createLobbyCmd())
	case m.opts.Browse:
		cmds = append(cmds, m.startBrowseCmd())
	default:
		cmds = append(cmds, m.joinCmd(m.opts.OfferToken))
	}
	return tea.Batch(cmds...)
}

// waitForEvent forwards one session event into the bubbletea loop.
func (m model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return sessionEventMsg{ev}
	}
}

func copyToClipboardCmd(token string) tea.Cmd {
	return func() tea.Msg {
		return clipboardMsg{err: clipboard.WriteAll(token)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m.quit()
		}

	case spinner.TickMsg:
		if m.state == stateWorking || m.state == stateBrowsing || m.state == stateShowToken {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case clipboardMsg:
		m.copied = msg.err == nil
		if msg.err != nil {
			slog.Warn("failed to copy token to clipboard", "error", msg.err)
		}
		return m, nil

	case sessionEventMsg:
		return m.handleSessionEvent(msg.ev)
	}

	switch m.opts.Mode {
	case Host:
		return m.updateHost(msg)
	default:
		return m.updateJoin(msg)
	}
}

func (m model) View() string {
	switch m.opts.Mode {
	case Host:
		return m.hostView()
	default:
		return m.joinView()
	}
}

func (m *model) quit() (tea.Model, tea.Cmd) {
	m.cancel()
	m.opts.Manager.Close()
	return m, tea.Quit
}

func (m *model) resizeViewport() {
	height := m.height - 6
	if height < 3 {
		height = 3
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, height)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = height
	}
	m.refreshChat()
}
