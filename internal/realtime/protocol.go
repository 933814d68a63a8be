package realtime

import (
	"encoding/json"
	"strings"
)

// Event names shared with the backend.
const (
	// EventMessage is emitted after a message is created.
	EventMessage = "chat.message"
	// EventStatus carries a models.StatusChange in both directions.
	EventStatus = "chat.message.state"

	conversationPrefix = "chat.conversation."
)

// ConversationTopic is the inbound new-message event for one conversation.
func ConversationTopic(conversationID string) string {
	return conversationPrefix + conversationID
}

// ConversationOf returns the conversation id of a ConversationTopic.
func ConversationOf(topic string) (string, bool) {
	if !strings.HasPrefix(topic, conversationPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, conversationPrefix)
	return id, id != ""
}

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
