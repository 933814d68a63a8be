package tui

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edutalk/internal/api"
	"edutalk/internal/chat"
	"edutalk/internal/models"
)

func TestBadge(t *testing.T) {
	require.Contains(t, badge(models.StatusPending), pendingGlyph)
	require.Contains(t, badge(models.StatusUnread), tickGlyph)
	require.Contains(t, badge(models.StatusSeen), tickGlyph)
	require.Empty(t, badge(models.Status("bogus")))
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unauthorized", fmt.Errorf("refresh: %w", api.ErrUnauthorized), "Your session has expired. Please sign in again."},
		{"missing field", models.ErrMissingField, "Please fill in every field."},
		{"bad email", fmt.Errorf("email: %w", models.ErrInvalidEmail), "That email address does not look right."},
		{"self", chat.ErrSelfConversation, "You cannot start a conversation with yourself."},
		{"backend", &api.StatusError{Code: 400, Message: "Email already in use"}, "Email already in use"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, describe(tt.err))
		})
	}
}

func TestBanner(t *testing.T) {
	require.Empty(t, banner(nil, 80))
	b := banner(errors.New("load messages: timeout"), 80)
	require.Contains(t, b, "load messages: timeout")
	require.Contains(t, b, "[r] retry")
	require.Contains(t, b, "[x] dismiss")
}

func TestHighlightKeepsText(t *testing.T) {
	out := highlight("Hola hola mundo", "hola", false)
	for _, part := range []string{"Hola", "hola", " mundo"} {
		require.Contains(t, out, part)
	}
	require.Equal(t, "plain", highlight("plain", "", false))
}

func TestRenderMessage(t *testing.T) {
	now := time.Now()
	own := models.Message{ClientID: "c1", ID: "local-c1", SenderID: "u1", Content: "hi", Status: models.StatusPending, CreatedAt: now}
	out := renderMessage(own, "u1", "Beto", "", false, now)
	require.Contains(t, out, "You")
	require.Contains(t, out, "hi")
	require.Contains(t, out, pendingGlyph)
	require.Contains(t, out, "(sending)")

	other := models.Message{ID: "m2", SenderID: "u2", Content: "hola", Status: models.StatusUnread, CreatedAt: now.Add(-2 * time.Hour)}
	out = renderMessage(other, "u1", "Beto", "", false, now)
	require.Contains(t, out, "Beto")
	require.Contains(t, out, "2 hours ago")
	require.False(t, strings.Contains(out, tickGlyph))
}

func TestStamp(t *testing.T) {
	now := time.Now()
	require.Empty(t, stamp(time.Time{}, now))
	require.Equal(t, "now", stamp(now.Add(-10*time.Second), now))
	require.Equal(t, "3 minutes ago", stamp(now.Add(-3*time.Minute), now))
}
