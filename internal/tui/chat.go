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

	"edutalk/internal/chat"
	"edutalk/internal/models"
)

const sidebarWidth = 30

type focus int

const (
	focusList focus = iota
	focusInput
	focusFilter
	focusSearch
	focusSearchNav
	focusPicker
)

type (
	refreshedMsg struct{ err error }
	selectedMsg  struct{ err error }
	sentMsg      struct{ err error }
	usersMsg     struct {
		users []models.User
		err   error
	}
	startedMsg struct {
		id  string
		err error
	}
)

type chatView struct {
	client *chat.Client

	focus    focus
	cursor   int
	filter   textinput.Model
	input    textinput.Model
	query    textinput.Model
	search   chat.Search
	viewport viewport.Model

	picker       []models.User
	pickerCursor int
	pickerErr    error

	width, height int
}

func newChatView(c *chat.Client) chatView {
	filter := textinput.New()
	filter.Placeholder = "Filter..."
	filter.CharLimit = 64
	filter.Width = sidebarWidth - 6

	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 1000

	query := textinput.New()
	query.Placeholder = "Search messages..."
	query.CharLimit = 100

	return chatView{
		client:   c,
		filter:   filter,
		input:    input,
		query:    query,
		viewport: viewport.New(80, 20),
	}
}

func (v *chatView) resize(w, h int) {
	v.width, v.height = w, h
	paneW := w - sidebarWidth - 4
	if paneW < 20 {
		paneW = 20
	}
	v.input.Width = paneW - 4
	v.query.Width = paneW - 4
	v.viewport.Width = paneW
	v.viewport.Height = max(h-8, 3)
	v.syncViewport()
}

func (v *chatView) visible() []models.Conversation {
	return v.client.Conversations.Filter(v.filter.Value())
}

func (v *chatView) refresh() tea.Cmd {
	c := v.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return refreshedMsg{err: c.Refresh(ctx)}
	}
}

func (v *chatView) selectConversation(id string) tea.Cmd {
	c := v.client
	v.search.Reset()
	v.query.SetValue("")
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return selectedMsg{err: c.Select(ctx, id)}
	}
}

func (v *chatView) send(text string) tea.Cmd {
	c := v.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sentMsg{err: c.Send(ctx, text)}
	}
}

func (v *chatView) resend(clientID string) tea.Cmd {
	c := v.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sentMsg{err: c.Resend(ctx, clientID)}
	}
}

func (v *chatView) loadUsers() tea.Cmd {
	c := v.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		users, err := c.AvailableUsers(ctx)
		return usersMsg{users: users, err: err}
	}
}

func (v *chatView) start(userID string) tea.Cmd {
	c := v.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		id, err := c.StartConversation(ctx, userID)
		return startedMsg{id: id, err: err}
	}
}

// currentErr is what the banner shows. Send validation errors never get
// here; the reconciler does not record them.
func (v *chatView) currentErr() error {
	if err := v.client.Conversations.Err(); err != nil {
		return err
	}
	return v.client.Messages.Err()
}

// retry repeats the failed operation behind the banner.
func (v *chatView) retry() tea.Cmd {
	switch {
	case v.client.Conversations.Err() != nil:
		v.client.Conversations.DismissError()
		return v.refresh()
	case v.client.Messages.Err() != nil:
		for _, m := range v.client.Messages.Messages() {
			if !m.Confirmed() {
				return v.resend(m.ClientID)
			}
		}
		if id := v.client.Selected(); id != "" {
			return v.selectConversation(id)
		}
		v.client.Messages.DismissError()
	}
	return nil
}

func (v *chatView) dismiss() {
	v.client.Conversations.DismissError()
	v.client.Messages.DismissError()
}

func (v *chatView) setFocus(f focus) tea.Cmd {
	v.focus = f
	v.filter.Blur()
	v.input.Blur()
	v.query.Blur()
	switch f {
	case focusFilter:
		return v.filter.Focus()
	case focusInput:
		return v.input.Focus()
	case focusSearch:
		return v.query.Focus()
	}
	return nil
}

func (v *chatView) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case refreshedMsg:
		v.clampCursor()
	case selectedMsg, sentMsg:
		v.syncViewport()
		v.viewport.GotoBottom()
	case usersMsg:
		v.picker, v.pickerErr, v.pickerCursor = msg.users, msg.err, 0
	case startedMsg:
		if msg.err != nil {
			v.pickerErr = msg.err
			return nil
		}
		v.picker = nil
		v.filter.SetValue("")
		for i, c := range v.visible() {
			if c.ID == msg.id {
				v.cursor = i
			}
		}
		v.syncViewport()
		return v.setFocus(focusInput)
	case tea.KeyMsg:
		return v.key(msg)
	}
	return nil
}

func (v *chatView) key(msg tea.KeyMsg) tea.Cmd {
	k := msg.String()
	switch v.focus {
	case focusList:
		switch k {
		case "up", "k":
			if v.cursor > 0 {
				v.cursor--
			}
		case "down", "j":
			if v.cursor < len(v.visible())-1 {
				v.cursor++
			}
		case "enter":
			if convs := v.visible(); v.cursor < len(convs) {
				cmd := v.selectConversation(convs[v.cursor].ID)
				return tea.Batch(cmd, v.setFocus(focusInput))
			}
		case "/":
			return v.setFocus(focusFilter)
		case "tab":
			if v.client.Selected() != "" {
				return v.setFocus(focusInput)
			}
		case "ctrl+n":
			v.picker, v.pickerErr = nil, nil
			v.focus = focusPicker
			return v.loadUsers()
		case "r":
			return v.retry()
		case "x":
			v.dismiss()
		case "f5":
			return v.refresh()
		}
		return nil

	case focusFilter:
		switch k {
		case "enter", "esc":
			v.clampCursor()
			return v.setFocus(focusList)
		}
		var cmd tea.Cmd
		v.filter, cmd = v.filter.Update(msg)
		v.cursor = 0
		return cmd

	case focusInput:
		switch k {
		case "enter":
			text := v.input.Value()
			v.input.SetValue("")
			return v.send(text)
		case "esc", "tab":
			return v.setFocus(focusList)
		case "ctrl+f":
			return v.setFocus(focusSearch)
		}
		var cmd tea.Cmd
		v.input, cmd = v.input.Update(msg)
		return cmd

	case focusSearch:
		switch k {
		case "enter":
			return v.setFocus(focusSearchNav)
		case "esc":
			v.closeSearch()
			return v.setFocus(focusInput)
		}
		var cmd tea.Cmd
		v.query, cmd = v.query.Update(msg)
		v.syncViewport()
		return cmd

	case focusSearchNav:
		switch k {
		case "n":
			v.search.Next()
		case "N":
			v.search.Prev()
		case "/":
			return v.setFocus(focusSearch)
		case "esc":
			v.closeSearch()
			return v.setFocus(focusInput)
		}
		v.syncViewport()
		return nil

	case focusPicker:
		switch k {
		case "up", "k":
			if v.pickerCursor > 0 {
				v.pickerCursor--
			}
		case "down", "j":
			if v.pickerCursor < len(v.picker)-1 {
				v.pickerCursor++
			}
		case "enter":
			if v.pickerCursor < len(v.picker) {
				return v.start(v.picker[v.pickerCursor].ID)
			}
		case "esc":
			v.picker = nil
			return v.setFocus(focusList)
		}
	}
	return nil
}

func (v *chatView) closeSearch() {
	v.query.SetValue("")
	v.search.Reset()
	v.syncViewport()
}

func (v *chatView) clampCursor() {
	n := len(v.visible())
	if v.cursor >= n {
		v.cursor = max(n-1, 0)
	}
}

func (v *chatView) searching() bool {
	return v.focus == focusSearch || v.focus == focusSearchNav
}

// syncViewport re-renders the message pane and keeps the current search hit
// in view.
func (v *chatView) syncViewport() {
	msgs := v.client.Messages.Messages()
	query := ""
	if v.searching() {
		query = v.query.Value()
		v.search.Update(msgs, query)
	}
	current, hasCurrent := v.search.Current()

	self := v.client.Session.UserID()
	peer := chat.UnknownUser
	if conv, ok := v.client.Conversations.Find(v.client.Selected()); ok {
		peer = v.client.Conversations.DisplayName(conv)
	}

	now := time.Now()
	lines := make([]string, 0, len(msgs))
	offset, line := 0, 0
	for i, m := range msgs {
		isCurrent := hasCurrent && i == current
		if isCurrent {
			offset = line
		}
		rendered := renderMessage(m, self, peer, query, isCurrent, now)
		lines = append(lines, rendered)
		line += strings.Count(rendered, "\n") + 1
	}
	v.viewport.SetContent(strings.Join(lines, "\n"))
	if hasCurrent && query != "" {
		v.viewport.SetYOffset(offset)
	}
}

func (v *chatView) view() string {
	var b strings.Builder
	if bn := banner(v.currentErr(), v.width); bn != "" {
		b.WriteString(bn + "\n")
	}
	if v.focus == focusPicker {
		b.WriteString(v.pickerView())
		return b.String()
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, v.sidebarView(), v.paneView()))
	b.WriteString("\n" + mutedStyle.Render(v.help()))
	return b.String()
}

func (v *chatView) sidebarView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Conversations") + "\n")
	if v.focus == focusFilter || v.filter.Value() != "" {
		b.WriteString(v.filter.View() + "\n")
	}
	convs := v.visible()
	if len(convs) == 0 {
		b.WriteString(mutedStyle.Render("  no conversations") + "\n")
	}
	selected := v.client.Selected()
	for i, c := range convs {
		name := v.client.Conversations.DisplayName(c)
		if c.ID == selected {
			name = "● " + name
		}
		preview := truncate(v.client.Conversations.LastMessage(c.ID), sidebarWidth-6)
		item := name + "\n" + mutedStyle.Render(preview)
		if i == v.cursor && v.focus == focusList {
			b.WriteString(selectedItemStyle.Render(item) + "\n")
		} else {
			b.WriteString(itemStyle.Render(item) + "\n")
		}
	}
	style := sidebarStyle.Width(sidebarWidth)
	if v.height > 4 {
		style = style.Height(v.height - 4)
	}
	if v.focus == focusList || v.focus == focusFilter {
		style = style.BorderForeground(focusColor)
	}
	return style.Render(b.String())
}

func (v *chatView) paneView() string {
	var b strings.Builder
	header := "Select a conversation"
	if conv, ok := v.client.Conversations.Find(v.client.Selected()); ok {
		header = v.client.Conversations.DisplayName(conv)
	}
	if v.client.Messages.Loading() {
		header += mutedStyle.Render("  loading...")
	}
	if !v.client.Connected() {
		header += mutedStyle.Render("  offline")
	}
	b.WriteString(titleStyle.Render(header) + "\n")
	b.WriteString(v.viewport.View() + "\n")
	if v.searching() {
		b.WriteString(v.query.View() + " " + mutedStyle.Render(v.search.Counter()))
	} else {
		b.WriteString(v.input.View())
	}
	style := chatStyle
	if v.focus != focusList && v.focus != focusFilter {
		style = style.BorderForeground(focusColor)
	}
	return style.Render(b.String())
}

func (v *chatView) pickerView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("New conversation") + "\n\n")
	switch {
	case v.pickerErr != nil:
		b.WriteString(errorStyle.Render(describe(v.pickerErr)) + "\n")
	case v.picker == nil:
		b.WriteString(mutedStyle.Render("Loading users...") + "\n")
	case len(v.picker) == 0:
		b.WriteString(mutedStyle.Render("You already talk to everyone.") + "\n")
	}
	for i, u := range v.picker {
		line := fmt.Sprintf("%s  %s", u.Name, mutedStyle.Render(u.Email))
		if i == v.pickerCursor {
			b.WriteString(selectedItemStyle.Render(line) + "\n")
		} else {
			b.WriteString(itemStyle.Render(line) + "\n")
		}
	}
	b.WriteString("\n" + mutedStyle.Render("enter start · esc cancel"))
	return boxStyle.Render(b.String())
}

func (v *chatView) help() string {
	switch v.focus {
	case focusInput:
		return "enter send · ctrl+f search · esc conversations · ctrl+c quit"
	case focusSearch:
		return "type to search · enter navigate · esc close"
	case focusSearchNav:
		return "n next · N previous · / edit · esc close"
	case focusFilter:
		return "type to filter · enter/esc done"
	}
	return "↑/↓ move · enter open · / filter · ctrl+n new · f5 refresh · ctrl+l log out · q quit"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
