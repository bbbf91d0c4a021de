// Package tui is the terminal chat front end.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/smallbiznis/shopassist/internal/chatclient"
)

const sendTimeout = 45 * time.Second

// ChatPort is the TUI-facing subset of the chat client.
type ChatPort interface {
	Send(ctx context.Context, sessionID, message string) (*chatclient.Reply, error)
	History(ctx context.Context, sessionID string) ([]chatclient.HistoryEntry, error)
}

type line struct {
	role string
	text string
}

type replyMsg struct {
	reply *chatclient.Reply
	err   error
}

type historyMsg struct {
	entries []chatclient.HistoryEntry
	err     error
}

// Model is the Bubble Tea model for the chat window.
type Model struct {
	chat      ChatPort
	userID    string
	sessionID string
	input     textinput.Model
	viewport  viewport.Model
	lines     []line
	status    string
	pending   bool
	ready     bool
}

func New(chat ChatPort, userID, sessionID string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask for a product, add to cart, or check out"
	ti.Focus()
	ti.CharLimit = 2000
	vp := viewport.New(0, 0)
	return Model{
		chat:      chat,
		userID:    userID,
		sessionID: sessionID,
		input:     ti,
		viewport:  vp,
		status:    "Type a message. /new starts a fresh session, /quit exits.",
	}
}

func (m Model) Init() tea.Cmd {
	if m.sessionID != "" {
		return tea.Batch(textinput.Blink, m.loadHistory())
	}
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header, status, input
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil
	case replyMsg:
		m.pending = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		m.sessionID = msg.reply.SessionID
		m.lines = append(m.lines, line{role: "assistant", text: msg.reply.Reply})
		m.status = statusFor(msg.reply)
		m.refresh()
		return m, nil
	case historyMsg:
		if msg.err != nil {
			m.status = "Could not load history: " + msg.err.Error()
			return m, nil
		}
		m.lines = m.lines[:0]
		for _, e := range msg.entries {
			m.lines = append(m.lines, line{role: e.Role, text: e.Content})
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.pending {
		return m, nil
	}
	m.input.Reset()
	switch text {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/new":
		m.sessionID = ""
		m.lines = nil
		m.status = "Started a new session."
		m.refresh()
		return m, nil
	}
	m.lines = append(m.lines, line{role: "user", text: text})
	m.pending = true
	m.status = "Thinking..."
	m.refresh()
	return m, m.send(m.sessionID, text)
}

func (m Model) send(sessionID, text string) tea.Cmd {
	chat := m.chat
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		reply, err := chat.Send(ctx, sessionID, text)
		return replyMsg{reply: reply, err: err}
	}
}

func (m Model) loadHistory() tea.Cmd {
	chat, sessionID := m.chat, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		entries, err := chat.History(ctx, sessionID)
		return historyMsg{entries: entries, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Shop Assistant")
	session := m.sessionID
	if session == "" {
		session = "new"
	}
	sub := mutedStyle.Render(fmt.Sprintf("user %s  session %s", m.userID, session))
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + sub + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.lines) == 0 {
		return mutedStyle.Render("No messages yet.")
	}
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if l.role == "user" {
			b.WriteString(userStyle.Render("you: "))
		} else {
			b.WriteString(assistantStyle.Render("assistant: "))
		}
		b.WriteString(l.text)
	}
	return b.String()
}

func statusFor(r *chatclient.Reply) string {
	status := "intent " + r.Intent
	if r.Outcome != "" {
		status += " (" + r.Outcome + ")"
	}
	if r.Replayed {
		status += " [replayed]"
	}
	return status
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	mutedStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
