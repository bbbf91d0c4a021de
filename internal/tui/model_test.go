package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shopassist/internal/chatclient"
)

type fakeChat struct {
	sessionID string
	message   string
	reply     *chatclient.Reply
	err       error
	history   []chatclient.HistoryEntry
}

func (f *fakeChat) Send(_ context.Context, sessionID, message string) (*chatclient.Reply, error) {
	f.sessionID = sessionID
	f.message = message
	return f.reply, f.err
}

func (f *fakeChat) History(context.Context, string) ([]chatclient.HistoryEntry, error) {
	return f.history, nil
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

func typeText(m Model, text string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

func TestSubmitSendsAndAppliesReply(t *testing.T) {
	chat := &fakeChat{reply: &chatclient.Reply{SessionID: "77", Reply: "Added 1 x Wool Beanie to your cart.", Intent: "add_to_cart", Success: true}}
	m := typeText(sized(New(chat, "u1", "")), "add a beanie")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.pending)
	assert.Equal(t, "", m.input.Value())

	msg := cmd()
	assert.Equal(t, "add a beanie", chat.message)
	assert.Equal(t, "", chat.sessionID)

	next, _ = m.Update(msg)
	m = next.(Model)
	assert.False(t, m.pending)
	assert.Equal(t, "77", m.sessionID)
	require.Len(t, m.lines, 2)
	assert.Equal(t, "assistant", m.lines[1].role)
	assert.Equal(t, "intent add_to_cart", m.status)
	assert.Contains(t, m.View(), "session 77")
}

func TestSubmitIgnoredWhilePending(t *testing.T) {
	m := sized(New(&fakeChat{}, "u1", "5"))
	m.pending = true
	m = typeText(m, "checkout")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestReplyErrorShownInStatus(t *testing.T) {
	m := sized(New(&fakeChat{}, "u1", "5"))
	m.pending = true
	next, _ := m.Update(replyMsg{err: errors.New("boom")})
	m = next.(Model)
	assert.False(t, m.pending)
	assert.Equal(t, "Error: boom", m.status)
	assert.Equal(t, "5", m.sessionID)
}

func TestNewCommandResetsSession(t *testing.T) {
	m := sized(New(&fakeChat{}, "u1", "5"))
	m.lines = []line{{role: "user", text: "hi"}}
	m = typeText(m, "/new")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Empty(t, m.sessionID)
	assert.Empty(t, m.lines)
}

func TestInitLoadsHistoryForExistingSession(t *testing.T) {
	chat := &fakeChat{history: []chatclient.HistoryEntry{
		{Role: "user", Content: "show my cart"},
		{Role: "assistant", Content: "Your cart is empty."},
	}}
	m := sized(New(chat, "u1", "5"))

	next, _ := m.Update(m.loadHistory()())
	m = next.(Model)
	require.Len(t, m.lines, 2)
	assert.Contains(t, m.renderTranscript(), "Your cart is empty.")
}
