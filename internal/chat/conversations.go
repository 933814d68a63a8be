package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"edutalk/internal/models"
)

// ConversationAPI is the part of the REST client the list manager needs.
type ConversationAPI interface {
	Conversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UsersWithConversation(ctx context.Context, userID string) ([]models.User, error)
	UsersWithoutConversation(ctx context.Context, userID string) ([]models.User, error)
	CreateConversation(ctx context.Context, participantOne, participantTwo string) (*models.Conversation, error)
}

const UnknownUser = "Unknown User"

// Conversations holds the local user's conversation list and the users they
// already talk to, which backs display names when a conversation arrives
// without participants.
type Conversations struct {
	notifier

	api  ConversationAPI
	self Identity
	log  *zap.Logger

	mu       sync.Mutex
	list     []models.Conversation
	partners []models.User
	last     map[string]string
	err      error
}

func NewConversations(api ConversationAPI, self Identity, log *zap.Logger) *Conversations {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conversations{api: api, self: self, log: log, last: make(map[string]string)}
}

// Refresh refetches the list. On failure the list is emptied and the error
// kept for the banner.
func (c *Conversations) Refresh(ctx context.Context) error {
	uid := c.self.UserID()
	convs, err := c.api.Conversations(ctx, uid)
	if err == nil {
		var partners []models.User
		partners, err = c.api.UsersWithConversation(ctx, uid)
		if err == nil {
			c.mu.Lock()
			c.list = convs
			c.partners = partners
			c.err = nil
			for _, conv := range convs {
				if conv.LastMessage != "" {
					c.last[conv.ID] = conv.LastMessage
				}
			}
			c.mu.Unlock()
			c.notify()
			c.log.Debug("conversations_loaded", zap.Int("count", len(convs)))
			return nil
		}
	}

	err = fmt.Errorf("load conversations: %w", err)
	c.mu.Lock()
	c.list = nil
	c.partners = nil
	c.err = err
	c.mu.Unlock()
	c.notify()
	c.log.Warn("conversations_failed", zap.Error(err))
	return err
}

func (c *Conversations) List() []models.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Conversation(nil), c.list...)
}

// Filter returns the conversations whose display name matches query.
func (c *Conversations) Filter(query string) []models.Conversation {
	return FilterConversations(c.List(), query, c.DisplayName)
}

// DisplayName derives a title from the other participant. Conversations
// without participants fall back to the users-with-conversation entry at the
// same position, which is the order the backend returns both lists in.
func (c *Conversations) DisplayName(conv models.Conversation) string {
	if p, ok := conv.Other(c.self.UserID()); ok && p.Name != "" {
		return p.Name
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, known := range c.list {
		if known.ID == conv.ID && i < len(c.partners) && c.partners[i].Name != "" {
			return c.partners[i].Name
		}
	}
	if conv.Name != "" {
		return conv.Name
	}
	return UnknownUser
}

// Find returns the conversation with id from the last refresh.
func (c *Conversations) Find(id string) (models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range c.list {
		if conv.ID == id {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

// AvailableUsers lists the users the local user could start a conversation
// with.
func (c *Conversations) AvailableUsers(ctx context.Context) ([]models.User, error) {
	uid := c.self.UserID()
	users, err := c.api.UsersWithoutConversation(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load available users: %w", err)
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != uid {
			out = append(out, u)
		}
	}
	return out, nil
}

// Create opens a conversation with otherUserID, refreshes the list and
// returns the new conversation id.
func (c *Conversations) Create(ctx context.Context, otherUserID string) (string, error) {
	uid := c.self.UserID()
	if otherUserID == "" || otherUserID == uid {
		return "", ErrSelfConversation
	}
	conv, err := c.api.CreateConversation(ctx, uid, otherUserID)
	if err != nil {
		err = fmt.Errorf("create conversation: %w", err)
		c.setErr(err)
		return "", err
	}
	c.log.Info("conversation_created", zap.String("conversation_id", conv.ID))
	if err := c.Refresh(ctx); err != nil {
		return conv.ID, err
	}
	return conv.ID, nil
}

func (c *Conversations) SetLastMessage(conversationID, text string) {
	c.mu.Lock()
	c.last[conversationID] = text
	c.mu.Unlock()
	c.notify()
}

func (c *Conversations) LastMessage(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[conversationID]
}

func (c *Conversations) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conversations) DismissError() { c.setErr(nil) }

// Reset drops everything cached for the previous user.
func (c *Conversations) Reset() {
	c.mu.Lock()
	c.list = nil
	c.partners = nil
	c.last = make(map[string]string)
	c.err = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Conversations) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.notify()
}
