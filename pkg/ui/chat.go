package ui

import (
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	runewidth "github.com/mattn/go-runewidth"

	"github.com/rescp17/peerlink/internal/style"
	"github.com/rescp17/peerlink/pkg/session"
)

// handleSessionEvent reacts to events forwarded from the session bus and
// re-arms the event listener.
func (m model) handleSessionEvent(ev session.Event) (tea.Model, tea.Cmd) {
	switch ev.Name {
	case session.EventOpen:
		m.state = stateChatting
		m.input.SetValue("")
		m.input.Placeholder = "message, or /send <path>"
		m.input.Focus()
		m.appendLine(style.FaintText.Render("— channel open —"))

	case session.EventClose:
		if m.state == stateChatting {
			m.state = stateDone
			m.appendLine(style.FaintText.Render("— channel closed —"))
		}

	case session.MessageEventPrefix + "chat":
		var p ChatPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			m.appendLine(style.PeerStyle.Render("peer: ") + p.Text)
		}

	case session.MessageEventPrefix + "file":
		var p FilePayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			if name, err := saveFilePayload(p); err == nil {
				m.appendLine(style.PeerStyle.Render("peer sent ") +
					fmt.Sprintf("%s (%s, %d bytes) → saved as %s", p.Name, p.Mime, p.Size, name))
			} else {
				m.appendLine(style.ErrorStyle.Render(err.Error()))
			}
		}
	}
	return m, m.waitForEvent()
}

// updateChat drives the chat prompt once the channel is open.
func (m model) updateChat(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		text := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if text == "" {
			return m, nil
		}
		if path, ok := strings.CutPrefix(text, "/send "); ok {
			return m.sendAttachment(strings.TrimSpace(path))
		}
		if m.opts.Manager.Send("chat", ChatPayload{Text: text}) {
			m.appendLine(style.SelfStyle.Render("you: ") + text)
		} else {
			m.appendLine(style.ErrorStyle.Render("not delivered: ") + text)
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// sendAttachment packages and transmits a small file from the chat prompt.
func (m model) sendAttachment(path string) (tea.Model, tea.Cmd) {
	payload, err := buildFilePayload(path)
	if err != nil {
		m.appendLine(style.ErrorStyle.Render(err.Error()))
		return m, nil
	}
	if m.opts.Manager.Send("file", payload) {
		m.appendLine(style.SelfStyle.Render("you sent ") +
			fmt.Sprintf("%s (%s, %d bytes)", payload.Name, payload.Mime, payload.Size))
	} else {
		m.appendLine(style.ErrorStyle.Render("not delivered: ") + payload.Name)
	}
	return m, nil
}

func (m *model) appendLine(s string) {
	m.chatlog = append(m.chatlog, s)
	m.refreshChat()
}

func (m *model) refreshChat() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.chatlog, "\n"))
	m.viewport.GotoBottom()
}

func (m model) chatView() string {
	status := m.opts.Manager.Role().String() + " · " + m.opts.Manager.Phase().String()
	if m.width > 0 {
		status = runewidth.Truncate(status, m.width, "…")
	}
	body := strings.Join(m.chatlog, "\n")
	if m.ready {
		body = m.viewport.View()
	}
	return fmt.Sprintf("%s  %s\n\n%s\n\n%s\n%s",
		style.TitleStyle.Render("peerlink"),
		style.HelpStyle.Render(status),
		body,
		m.input.View(),
		style.HelpStyle.Render("enter send · /send <path> attach · ctrl+c quit"),
	)
}
