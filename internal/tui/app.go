// Package tui is the EduTalk terminal front end: sign in, sign up and the
// two-pane chat screen, rendered with bubbletea.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"edutalk/internal/chat"
)

const requestTimeout = 20 * time.Second

type screen int

const (
	screenLogin screen = iota
	screenRegister
	screenChat
)

// changedMsg means the conversation list or the message list moved.
type changedMsg struct{}

type loggedOutMsg struct{ err error }

// Model is the root bubbletea model.
type Model struct {
	client *chat.Client
	log    *zap.Logger

	screen   screen
	login    loginForm
	register registerForm
	chat     chatView

	convChanges <-chan struct{}
	msgChanges  <-chan struct{}

	width, height int
}

func New(client *chat.Client, log *zap.Logger) Model {
	if log == nil {
		log = zap.NewNop()
	}
	m := Model{
		client:      client,
		log:         log,
		login:       newLoginForm(),
		register:    newRegisterForm(),
		chat:        newChatView(client),
		convChanges: client.Conversations.Changes(),
		msgChanges:  client.Messages.Changes(),
	}
	if client.Session.Active() {
		m.screen = screenChat
	}
	return m
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, client *chat.Client, log *zap.Logger) error {
	p := tea.NewProgram(New(client, log), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForChange()}
	if m.screen == screenChat {
		cmds = append(cmds, m.chat.refresh())
	}
	return tea.Batch(cmds...)
}

// waitForChange turns the next coalesced change signal into a changedMsg.
func (m Model) waitForChange() tea.Cmd {
	conv, msgs := m.convChanges, m.msgChanges
	return func() tea.Msg {
		select {
		case <-conv:
		case <-msgs:
		}
		return changedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.chat.resize(msg.Width, msg.Height)
		return m, nil

	case changedMsg:
		// A rejected token clears the session from any call site.
		if m.screen == screenChat && !m.client.Session.Active() {
			m.toLogin(nil)
		}
		m.chat.syncViewport()
		return m, m.waitForChange()

	case loggedOutMsg:
		m.toLogin(msg.err)
		return m, nil

	case authDoneMsg:
		return m.authDone(msg)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}

	switch m.screen {
	case screenLogin:
		return m.updateLogin(msg)
	case screenRegister:
		return m.updateRegister(msg)
	}
	return m.updateChat(msg)
}

func (m *Model) toLogin(err error) {
	m.screen = screenLogin
	m.login = newLoginForm()
	m.login.err = err
	m.chat = newChatView(m.client)
	m.chat.resize(m.width, m.height)
}

func (m Model) authDone(msg authDoneMsg) (tea.Model, tea.Cmd) {
	m.login.busy, m.register.busy = false, false
	if msg.err != nil {
		m.log.Info("auth_failed", zap.Error(msg.err))
		if m.screen == screenRegister {
			m.register.err = msg.err
		} else {
			m.login.err = msg.err
		}
		return m, nil
	}
	m.log.Info("auth_succeeded", zap.String("user_id", m.client.Session.UserID()))
	m.screen = screenChat
	return m, m.chat.refresh()
}

func (m Model) updateLogin(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && !m.login.busy {
		switch key.String() {
		case "enter":
			if m.login.focus == loginEmail {
				return m, m.login.move(1, 2)
			}
			return m, m.login.submit(m.client.Login)
		case "tab", "down":
			return m, m.login.move(1, 2)
		case "shift+tab", "up":
			return m, m.login.move(-1, 2)
		case "ctrl+r":
			m.screen = screenRegister
			m.register = newRegisterForm()
			return m, nil
		case "esc":
			return m, tea.Quit
		}
	}
	return m, m.login.update(msg)
}

func (m Model) updateRegister(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && !m.register.busy {
		switch key.String() {
		case "enter":
			if m.register.focus == regGrade {
				return m, m.register.submit(m.client.Register)
			}
			return m, m.register.move(1, regStops)
		case "tab", "down":
			return m, m.register.move(1, regStops)
		case "shift+tab", "up":
			return m, m.register.move(-1, regStops)
		case "left":
			if m.register.focus == regGrade {
				m.register.cycleGrade(-1)
				return m, nil
			}
		case "right":
			if m.register.focus == regGrade {
				m.register.cycleGrade(1)
				return m, nil
			}
		case "esc":
			m.screen = screenLogin
			return m, nil
		}
	}
	return m, m.register.update(msg)
}

func (m Model) updateChat(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && m.chat.focus == focusList {
		switch key.String() {
		case "ctrl+l":
			c := m.client
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				return loggedOutMsg{err: c.Logout(ctx)}
			}
		case "q":
			return m, tea.Quit
		}
	}
	cmd := m.chat.update(msg)
	return m, cmd
}

func (m Model) View() string {
	var body string
	switch m.screen {
	case screenLogin:
		body = m.login.view()
	case screenRegister:
		body = m.register.view()
	default:
		return m.chat.view()
	}
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, body)
	}
	return body
}
