package ui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/rescp17/peerlink/internal/style"
	"github.com/rescp17/peerlink/pkg/discovery"
	"github.com/rescp17/peerlink/pkg/token"
)

// createLobbyCmd runs the host handshake up to the offer token.
func (m model) createLobbyCmd() tea.Cmd {
	mgr := m.opts.Manager
	ctx := m.ctx
	return func() tea.Msg {
		tok, err := mgr.CreateLobby(ctx)
		if err != nil {
			return handshakeErrMsg{err}
		}
		return offerReadyMsg{token: tok}
	}
}

// applyAnswerCmd feeds the pasted answer token back into the session.
func (m model) applyAnswerCmd(raw string) tea.Cmd {
	mgr := m.opts.Manager
	return func() tea.Msg {
		applied, err := mgr.ApplyAnswerToken(token.FromURL(raw))
		return answerAppliedMsg{applied: applied, err: err}
	}
}

// announceCmd advertises the lobby over mDNS until the UI shuts down.
func (m model) announceCmd(tok string) tea.Cmd {
	lobby := discovery.Lobby{
		ID:    uuid.NewString()[:8],
		Name:  m.opts.LobbyName,
		Token: tok,
	}
	ctx := m.ctx
	return func() tea.Msg {
		if err := discovery.Announce(ctx, lobby); err != nil {
			slog.Warn("lobby announcement stopped", "error", err)
		}
		return nil
	}
}

func (m model) updateHost(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.state == stateChatting {
		return m.updateChat(msg)
	}

	switch msg := msg.(type) {
	case offerReadyMsg:
		m.token = msg.token
		if m.opts.ShareBase != "" {
			m.shareURL = token.HostURL(m.opts.ShareBase, msg.token)
		}
		m.state = stateShowToken
		m.input.Placeholder = "paste the guest's answer token here"
		m.input.Focus()
		cmds := []tea.Cmd{copyToClipboardCmd(msg.token), textinput.Blink}
		if m.opts.Announce {
			cmds = append(cmds, m.announceCmd(msg.token))
		}
		return m, tea.Batch(cmds...)

	case answerAppliedMsg:
		switch {
		case msg.err != nil:
			m.status = style.ErrorStyle.Render(fmt.Sprintf("answer rejected: %v", msg.err))
		case !msg.applied:
			m.status = style.HelpStyle.Render("answer was already applied")
		default:
			m.status = "answer applied, connecting…"
		}
		return m, nil

	case handshakeErrMsg:
		m.lastError = msg.err
		m.state = stateFailed
		return m, nil

	case tea.KeyMsg:
		if m.state == stateShowToken && msg.String() == "enter" {
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" {
				return m, nil
			}
			m.input.SetValue("")
			return m, m.applyAnswerCmd(raw)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) hostView() string {
	switch m.state {
	case stateWorking:
		return fmt.Sprintf("\n %s Creating lobby, gathering candidates…\n", m.spinner.View())

	case stateShowToken:
		var b strings.Builder
		b.WriteString(style.TitleStyle.Render("Lobby ready") + "\n\n")
		b.WriteString("Share this offer token with your guest:\n")
		b.WriteString(m.tokenBox() + "\n")
		if m.shareURL != "" {
			b.WriteString(style.FaintText.Render("or link: "+m.shareURL) + "\n")
		}
		if m.copied {
			b.WriteString(style.HelpStyle.Render("(copied to clipboard)") + "\n")
		}
		if m.opts.Announce {
			b.WriteString(style.HelpStyle.Render("announcing lobby on the local network") + "\n")
		}
		b.WriteString("\n" + m.input.View() + "\n")
		if m.status != "" {
			b.WriteString(m.status + "\n")
		}
		b.WriteString(style.HelpStyle.Render("enter apply answer · ctrl+c quit"))
		return b.String()

	case stateDone:
		return "\nChannel closed.\n"

	case stateFailed:
		return "\n" + style.ErrorStyle.Render(fmt.Sprintf("Lobby creation failed: %v", m.lastError)) + "\n"

	default:
		return m.chatView()
	}
}

// tokenBox renders the token wrapped to the current width.
func (m model) tokenBox() string {
	width := m.width - 4
	if width < 20 {
		width = 60
	}
	return style.TokenStyle.Width(width).Render(m.token)
}
