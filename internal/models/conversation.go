package models

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Conversation struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	LastMessage  string        `json:"last_message,omitempty"`
	Participants []Participant `json:"participants"`
}

// Other returns the first participant that is not userID.
func (c Conversation) Other(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return Participant{}, false
}

// NewConversation is the body of a create-conversation request.
type NewConversation struct {
	ParticipantOneID string `json:"participant_one_id"`
	ParticipantTwoID string `json:"participant_two_id"`
}
