package apitest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"edutalk/internal/models"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.LoginCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := s.login(creds)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{Message: "Login successful", Token: token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var data models.RegisterData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := data.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := s.createAccount(data)
	if errors.Is(err, errEmailTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	token, err := s.sign(acc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, models.AuthResponse{Message: "User registered", Token: token})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.mu.Lock()
	out := []models.Conversation{}
	for _, c := range s.userConversations(userID) {
		conv := *c
		if msgs := s.messages[c.ID]; len(msgs) > 0 {
			conv.LastMessage = msgs[len(msgs)-1].Content
		}
		out = append(out, conv)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// handleUsersWith lists the other participant of each conversation, in
// conversation order.
func (s *Server) handleUsersWith(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.mu.Lock()
	out := []models.User{}
	for _, c := range s.userConversations(userID) {
		if p, ok := c.Other(userID); ok {
			if acc := s.accountByID(p.ID); acc != nil {
				out = append(out, acc.User)
			}
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// handleUsersWithout includes the caller; the client is expected to drop it.
func (s *Server) handleUsersWithout(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.mu.Lock()
	linked := map[string]bool{}
	for _, c := range s.userConversations(userID) {
		if p, ok := c.Other(userID); ok {
			linked[p.ID] = true
		}
	}
	out := []models.User{}
	for _, a := range s.accounts {
		if !linked[a.ID] {
			out = append(out, a.User)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.NewConversation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	conv, err := s.createConversation(req.ParticipantOneID, req.ParticipantTwoID)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")
	s.mu.Lock()
	out := []models.Message{}
	for _, m := range s.messages[convID] {
		out = append(out, *m)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req models.NewMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" || req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "content and sender_id are required")
		return
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}

	s.mu.Lock()
	if s.conversationByID(req.ConversationID) == nil {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	m := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Status:         req.Status,
		ClientID:       req.ClientID,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[req.ConversationID] = append(s.messages[req.ConversationID], m)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, ok := models.ParseStatus(req.State)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	s.mu.Lock()
	m := s.messageByID(id)
	if m == nil {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	m.Status = status
	s.statusLog = append(s.statusLog, models.StatusChange{MessageID: id, Status: status, ConversationID: m.ConversationID})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "state updated"})
}

// The helpers below expect s.mu to be held.

func (s *Server) accountByID(id string) *account {
	for _, a := range s.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (s *Server) conversationByID(id string) *models.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Server) messageByID(id string) *models.Message {
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == id {
				return m
			}
		}
	}
	return nil
}

func (s *Server) userConversations(userID string) []*models.Conversation {
	var out []*models.Conversation
	for _, c := range s.conversations {
		for _, p := range c.Participants {
			if p.ID == userID {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (s *Server) createConversation(a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, errors.New("No puedes crear una conversación contigo mismo")
	}
	one, two := s.accountByID(a), s.accountByID(b)
	if one == nil || two == nil {
		return nil, errors.New("participant not found")
	}
	for _, c := range s.userConversations(a) {
		if p, ok := c.Other(a); ok && p.ID == b {
			return nil, errors.New("conversation already exists")
		}
	}
	conv := &models.Conversation{
		ID:   uuid.NewString(),
		Name: one.Name + " & " + two.Name,
		Participants: []models.Participant{
			{ID: one.ID, Name: one.Name},
			{ID: two.ID, Name: two.Name},
		},
	}
	s.conversations = append(s.conversations, conv)
	return conv, nil
}
