package models

import (
	"strings"
	"time"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusPending Status = "Pending" // created locally, not yet confirmed
	StatusUnread  Status = "Unread"  // persisted by the backend
	StatusSeen    Status = "Seen"    // observed by the recipient
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUnread, StatusSeen:
		return true
	}
	return false
}

// ParseStatus accepts any casing of a known state.
func ParseStatus(raw string) (Status, bool) {
	for _, s := range []Status{StatusPending, StatusUnread, StatusSeen} {
		if strings.EqualFold(raw, string(s)) {
			return s, true
		}
	}
	return "", false
}

type Message struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"sender_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	Status         Status    `json:"state,omitempty"`

	// ClientID correlates an optimistic local message with the record the
	// backend returns for it. Empty for messages that were never local.
	ClientID string `json:"client_id,omitempty"`
}

// Confirmed reports whether the backend has assigned this message an id.
func (m Message) Confirmed() bool {
	return m.ID != "" && m.ID != m.localID()
}

func (m Message) localID() string {
	if m.ClientID == "" {
		return ""
	}
	return LocalIDPrefix + m.ClientID
}

// LocalIDPrefix marks ids of placeholders that only exist on this client.
const LocalIDPrefix = "local-"

// NewMessage is the body of a create-message request.
type NewMessage struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	SenderID       string `json:"sender_id"`
	Status         Status `json:"state"`
	ClientID       string `json:"client_id,omitempty"`
}

// StatusChange is carried by the chat.message.state push event.
type StatusChange struct {
	MessageID      string `json:"message_id"`
	Status         Status `json:"state"`
	ConversationID string `json:"conversation_id,omitempty"`
}
