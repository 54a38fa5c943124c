package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/peerlink/internal/style"
	"github.com/rescp17/peerlink/pkg/token"
)

// joinCmd runs the guest handshake: apply the offer, produce the answer.
func (m model) joinCmd(raw string) tea.Cmd {
	mgr := m.opts.Manager
	ctx := m.ctx
	return func() tea.Msg {
		tok, err := mgr.JoinFromToken(ctx, token.FromURL(raw))
		if err != nil {
			return handshakeErrMsg{err}
		}
		return answerReadyMsg{token: tok}
	}
}

// startBrowseCmd arms the mDNS browse listener.
func (m model) startBrowseCmd() tea.Cmd {
	return m.waitBrowse()
}

func (m model) waitBrowse() tea.Cmd {
	ch := m.browseCh
	return func() tea.Msg {
		res, ok := <-ch
		if !ok {
			return nil
		}
		return browseMsg{result: res}
	}
}

func (m model) updateJoin(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.state == stateChatting {
		return m.updateChat(msg)
	}

	switch msg := msg.(type) {
	case browseMsg:
		if msg.result.Err != nil {
			m.lastError = msg.result.Err
			m.state = stateFailed
			return m, nil
		}
		m.lobbies = msg.result.Lobbies
		if m.cursor >= len(m.lobbies) {
			m.cursor = len(m.lobbies) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, m.waitBrowse()

	case answerReadyMsg:
		m.token = msg.token
		if m.opts.ShareBase != "" {
			m.shareURL = token.AnswerURL(m.opts.ShareBase, msg.token)
		}
		m.state = stateShowToken
		return m, copyToClipboardCmd(msg.token)

	case handshakeErrMsg:
		m.lastError = msg.err
		m.state = stateFailed
		return m, nil

	case tea.KeyMsg:
		if m.state == stateBrowsing {
			switch msg.String() {
			case "up", "k":
				if m.cursor > 0 {
					m.cursor--
				}
			case "down", "j":
				if m.cursor < len(m.lobbies)-1 {
					m.cursor++
				}
			case "enter":
				if len(m.lobbies) > 0 {
					m.state = stateWorking
					return m, m.joinCmd(m.lobbies[m.cursor].Token)
				}
			}
		}
	}
	return m, nil
}

func (m model) joinView() string {
	switch m.state {
	case stateBrowsing:
		var b strings.Builder
		b.WriteString(style.TitleStyle.Render("Lobbies on the local network") + "\n\n")
		if len(m.lobbies) == 0 {
			b.WriteString(fmt.Sprintf(" %s browsing…\n", m.spinner.View()))
		}
		for i, lobby := range m.lobbies {
			cursor := "  "
			name := lobby.Name
			if name == "" {
				name = lobby.ID
			}
			if i == m.cursor {
				cursor = style.SelfStyle.Render("> ")
			}
			b.WriteString(fmt.Sprintf("%s%s\n", cursor, name))
		}
		b.WriteString("\n" + style.HelpStyle.Render("↑/↓ select · enter join · ctrl+c quit"))
		return b.String()

	case stateWorking:
		return fmt.Sprintf("\n %s Applying offer, gathering candidates…\n", m.spinner.View())

	case stateShowToken:
		var b strings.Builder
		b.WriteString(style.TitleStyle.Render("Answer ready") + "\n\n")
		b.WriteString("Send this answer token back to the host:\n")
		b.WriteString(m.tokenBox() + "\n")
		if m.shareURL != "" {
			b.WriteString(style.FaintText.Render("or link: "+m.shareURL) + "\n")
		}
		if m.copied {
			b.WriteString(style.HelpStyle.Render("(copied to clipboard)") + "\n")
		}
		b.WriteString(fmt.Sprintf("\n %s waiting for the host to apply it…\n", m.spinner.View()))
		b.WriteString(style.HelpStyle.Render("ctrl+c quit"))
		return b.String()

	case stateDone:
		return "\nChannel closed.\n"

	case stateFailed:
		return "\n" + style.ErrorStyle.Render(fmt.Sprintf("Join failed: %v", m.lastError)) + "\n"

	default:
		return m.chatView()
	}
}
