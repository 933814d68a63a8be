package tui

import (
	"errors"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"edutalk/internal/api"
	"edutalk/internal/chat"
	"edutalk/internal/models"
	"edutalk/internal/session"
)

// Badge glyphs per delivery state.
const (
	pendingGlyph = "🕓"
	tickGlyph    = "✓✓"
)

// badge renders the delivery state of an outgoing message: a clock while
// Pending, grey double tick once Unread, blue double tick once Seen.
func badge(s models.Status) string {
	switch s {
	case models.StatusPending:
		return pendingBadgeStyle.Render(pendingGlyph)
	case models.StatusUnread:
		return unreadBadgeStyle.Render(tickGlyph)
	case models.StatusSeen:
		return seenBadgeStyle.Render(tickGlyph)
	}
	return ""
}

// highlight renders text with every search hit styled; the hit under the
// cursor gets the stronger style.
func highlight(text, query string, current bool) string {
	segs := chat.Highlight(text, query)
	var b strings.Builder
	for _, s := range segs {
		switch {
		case s.Match && current:
			b.WriteString(currentMatchStyle.Render(s.Text))
		case s.Match:
			b.WriteString(matchStyle.Render(s.Text))
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

func stamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.Sub(t) < time.Minute {
		return "now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// renderMessage draws one line of the conversation pane.
func renderMessage(m models.Message, self, peer string, query string, current bool, now time.Time) string {
	body := m.Content
	if query != "" {
		body = highlight(body, query, current)
	}
	when := mutedStyle.Render(stamp(m.CreatedAt, now))
	if m.SenderID == self {
		line := ownMessageStyle.Render("You") + " " + when + "\n  " + body + " " + badge(m.Status)
		if !m.Confirmed() && m.Status == models.StatusPending {
			line += mutedStyle.Render(" (sending)")
		}
		return line
	}
	return otherMessageStyle.Render(peer) + " " + when + "\n  " + body
}

// describe turns an error into banner text. Backend messages are shown
// verbatim.
func describe(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := api.BackendMessage(err); ok {
		return msg
	}
	switch {
	case errors.Is(err, api.ErrUnauthorized), errors.Is(err, session.ErrInvalidToken):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, models.ErrMissingField):
		return "Please fill in every field."
	case errors.Is(err, models.ErrInvalidEmail):
		return "That email address does not look right."
	case errors.Is(err, models.ErrInvalidGrade):
		return "Pick a grade."
	case errors.Is(err, chat.ErrSelfConversation):
		return "You cannot start a conversation with yourself."
	}
	return err.Error()
}

func banner(err error, width int) string {
	text := describe(err)
	if text == "" {
		return ""
	}
	text += "  [r] retry  [x] dismiss"
	if width > 0 {
		return bannerStyle.Width(width).Render(text)
	}
	return bannerStyle.Render(text)
}
