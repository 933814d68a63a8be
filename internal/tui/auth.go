package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"edutalk/internal/models"
)

type authDoneMsg struct{ err error }

func newInput(placeholder string, limit int, secret bool) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = limit
	in.Width = 32
	if secret {
		in.EchoMode = textinput.EchoPassword
	}
	return in
}

// form is a vertical list of text inputs with tab navigation.
type form struct {
	inputs []textinput.Model
	focus  int
}

func (f *form) focusAt(i int) tea.Cmd {
	f.focus = i
	var cmd tea.Cmd
	for j := range f.inputs {
		if j == i {
			cmd = f.inputs[j].Focus()
		} else {
			f.inputs[j].Blur()
		}
	}
	return cmd
}

// move shifts focus by delta across n stops, where n may exceed the number
// of inputs when the form has extra non-text stops.
func (f *form) move(delta, n int) tea.Cmd {
	return f.focusAt((f.focus + delta + n) % n)
}

func (f *form) update(msg tea.Msg) tea.Cmd {
	if f.focus >= len(f.inputs) {
		return nil
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *form) value(i int) string { return f.inputs[i].Value() }

func (f *form) view(labels []string) string {
	var b strings.Builder
	for i, in := range f.inputs {
		label := labels[i]
		if i == f.focus {
			label = lipgloss.NewStyle().Foreground(focusColor).Render(label)
		}
		fmt.Fprintf(&b, "%s\n%s\n\n", label, in.View())
	}
	return b.String()
}

type loginForm struct {
	form
	err  error
	busy bool
}

const (
	loginEmail = iota
	loginPassword
)

func newLoginForm() loginForm {
	f := loginForm{form: form{inputs: []textinput.Model{
		newInput("you@school.edu", 128, false),
		newInput("Password", 64, true),
	}}}
	f.focusAt(loginEmail)
	return f
}

func (f loginForm) credentials() models.LoginCredentials {
	return models.LoginCredentials{
		Email:    strings.TrimSpace(f.value(loginEmail)),
		Password: f.value(loginPassword),
	}
}

// submit validates locally and returns the command that logs in. Invalid
// input sets the error and returns nil.
func (f *loginForm) submit(login func(context.Context, models.LoginCredentials) error) tea.Cmd {
	creds := f.credentials()
	if err := creds.Validate(); err != nil {
		f.err = err
		return nil
	}
	f.err = nil
	f.busy = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return authDoneMsg{err: login(ctx, creds)}
	}
}

func (f loginForm) view() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EduTalk · Sign in") + "\n\n")
	b.WriteString(f.form.view([]string{"Email", "Password"}))
	if f.busy {
		b.WriteString(mutedStyle.Render("Signing in...") + "\n")
	} else if f.err != nil {
		b.WriteString(errorStyle.Render(describe(f.err)) + "\n")
	}
	b.WriteString(mutedStyle.Render("enter sign in · tab next field · ctrl+r create account · ctrl+c quit"))
	return boxStyle.Render(b.String())
}

type registerForm struct {
	form
	grade int
	err   error
	busy  bool
}

const (
	regUsername = iota
	regName
	regLastname
	regEmail
	regPassword
	regGrade // selector, not a text input
	regStops
)

func newRegisterForm() registerForm {
	f := registerForm{form: form{inputs: []textinput.Model{
		newInput("Username", 32, false),
		newInput("Name", 64, false),
		newInput("Last name", 64, false),
		newInput("you@school.edu", 128, false),
		newInput("Password", 64, true),
	}}}
	f.focusAt(regUsername)
	return f
}

func (f *registerForm) cycleGrade(delta int) {
	n := len(models.Grades)
	f.grade = (f.grade + delta + n) % n
}

func (f registerForm) data() models.RegisterData {
	return models.RegisterData{
		Username: strings.TrimSpace(f.value(regUsername)),
		Name:     strings.TrimSpace(f.value(regName)),
		Lastname: strings.TrimSpace(f.value(regLastname)),
		Email:    strings.TrimSpace(f.value(regEmail)),
		Password: f.value(regPassword),
		Grade:    models.Grades[f.grade],
	}
}

func (f *registerForm) submit(register func(context.Context, models.RegisterData) error) tea.Cmd {
	data := f.data()
	if err := data.Validate(); err != nil {
		f.err = err
		return nil
	}
	f.err = nil
	f.busy = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return authDoneMsg{err: register(ctx, data)}
	}
}

func (f registerForm) view() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EduTalk · Create account") + "\n\n")
	b.WriteString(f.form.view([]string{"Username", "Name", "Last name", "Email", "Password"}))

	label := "Grade"
	if f.focus == regGrade {
		label = lipgloss.NewStyle().Foreground(focusColor).Render(label)
	}
	fmt.Fprintf(&b, "%s\n‹ %s ›\n\n", label, models.Grades[f.grade])

	if f.busy {
		b.WriteString(mutedStyle.Render("Creating account...") + "\n")
	} else if f.err != nil {
		b.WriteString(errorStyle.Render(describe(f.err)) + "\n")
	}
	b.WriteString(mutedStyle.Render("enter submit · tab next field · ←/→ grade · esc back to sign in"))
	return boxStyle.Render(b.String())
}
