package chat

import (
	"strings"

	"edutalk/internal/models"
)

// FilterConversations keeps the conversations whose display name contains
// query, ignoring case. A blank query keeps everything. The input slice is
// not modified.
func FilterConversations(convs []models.Conversation, query string, name func(models.Conversation) string) []models.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		if q == "" || strings.Contains(strings.ToLower(name(c)), q) {
			out = append(out, c)
		}
	}
	return out
}
