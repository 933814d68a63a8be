// Package apitest runs an in-memory EduTalk backend for tests. It speaks the
// same REST routes and push events as the real service.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"edutalk/internal/models"
)

type account struct {
	models.User
	Username     string
	PasswordHash []byte
	Type         string
	Grade        string
}

type rule struct {
	method string
	prefix string
	code   int
	times  int // <= 0 means until cleared
}

type gate struct {
	method string
	prefix string
	ch     chan struct{}
}

// Server is a fake backend bound to a test.
type Server struct {
	*httptest.Server

	secret []byte
	hub    *Hub

	mu            sync.Mutex
	accounts      []*account
	conversations []*models.Conversation
	messages      map[string][]*models.Message // by conversation id
	statusLog     []models.StatusChange
	requests      []string
	rules         []*rule
	gates         []*gate
}

// New starts a server and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		secret:   []byte("apitest-secret"),
		messages: make(map[string][]*models.Message),
	}
	s.hub = newHub()
	go s.hub.Run()

	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Close() {
	s.hub.Stop()
	s.Server.Close()
}

// WSURL is the socket endpoint of this server.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *Server) routes() http.Handler {
	auth := NewAuthMiddleware(s)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.inject)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(auth.Handle)
		r.Get("/ws", s.serveWs)

		r.Get("/api/conversation/user/{userID}", s.handleConversations)
		r.Post("/api/conversation", s.handleCreateConversation)
		r.Get("/api/user/with-conversation/{userID}", s.handleUsersWith)
		r.Get("/api/user/without-conversation/{userID}", s.handleUsersWithout)
		r.Get("/api/message/conversation/{conversationID}", s.handleMessages)
		r.Post("/api/message", s.handleCreateMessage)
		r.Patch("/api/message/state/{messageID}", s.handleUpdateState)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// inject applies Fail and Hold rules before routing.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var code int
		for i, rl := range s.rules {
			if rl.method == r.Method && strings.HasPrefix(r.URL.Path, rl.prefix) {
				code = rl.code
				if rl.times > 0 {
					rl.times--
					if rl.times == 0 {
						s.rules = append(s.rules[:i], s.rules[i+1:]...)
					}
				}
				break
			}
		}
		var wait chan struct{}
		for _, g := range s.gates {
			if g.method == r.Method && strings.HasPrefix(r.URL.Path, g.prefix) {
				wait = g.ch
				break
			}
		}
		s.mu.Unlock()

		if wait != nil {
			select {
			case <-wait:
			case <-r.Context().Done():
				return
			}
		}
		if code != 0 {
			writeError(w, code, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Fail makes the next times requests matching method and path prefix answer
// with code. times <= 0 keeps failing until ClearFailures.
func (s *Server) Fail(method, prefix string, code, times int) {
	s.mu.Lock()
	s.rules = append(s.rules, &rule{method: method, prefix: prefix, code: code, times: times})
	s.mu.Unlock()
}

func (s *Server) ClearFailures() {
	s.mu.Lock()
	s.rules = nil
	s.mu.Unlock()
}

// Hold blocks matching requests until the returned func is called.
func (s *Server) Hold(method, prefix string) (release func()) {
	g := &gate{method: method, prefix: prefix, ch: make(chan struct{})}
	s.mu.Lock()
	s.gates = append(s.gates, g)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			for i, other := range s.gates {
				if other == g {
					s.gates = append(s.gates[:i], s.gates[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(g.ch)
		})
	}
}

// Requests lists "METHOD /path" for every request seen so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts requests with the given method and path prefix.
func (s *Server) CountRequests(method, prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" "+prefix) {
			n++
		}
	}
	return n
}

// StatusLog lists every accepted status update, in arrival order.
func (s *Server) StatusLog() []models.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StatusChange(nil), s.statusLog...)
}

// AddUser creates an account directly, bypassing /auth/register.
func (s *Server) AddUser(name, email, password string) models.User {
	acc, err := s.createAccount(models.RegisterData{
		Username: strings.ToLower(name),
		Name:     name,
		Email:    email,
		Password: password,
		Type:     models.AccountType,
	})
	if err != nil {
		panic(err)
	}
	return acc.User
}

// TokenFor mints a valid token for an existing user.
func (s *Server) TokenFor(userID string) string {
	s.mu.Lock()
	acc := s.accountByID(userID)
	s.mu.Unlock()
	if acc == nil {
		panic("apitest: unknown user " + userID)
	}
	tok, err := s.sign(acc)
	if err != nil {
		panic(err)
	}
	return tok
}

// AddConversation links two existing users.
func (s *Server) AddConversation(a, b string) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.createConversation(a, b)
	if err != nil {
		panic(err)
	}
	return *conv
}

// AddMessage stores a message as if it had been created through the API.
func (s *Server) AddMessage(conversationID, senderID, content string, status models.Status) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return *m
}

// Message returns the stored copy of a message.
func (s *Server) Message(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.messageByID(id); m != nil {
		return *m, true
	}
	return models.Message{}, false
}

// MessageCount is the number of stored messages in a conversation.
func (s *Server) MessageCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID])
}

// Push sends an event to every connected socket.
func (s *Server) Push(event string, data interface{}) {
	s.hub.Push(event, data)
}

// Emitted lists the events clients sent over their sockets.
func (s *Server) Emitted() []Event {
	return s.hub.Emitted()
}

// Sockets is the number of currently connected sockets.
func (s *Server) Sockets() int {
	return s.hub.Count()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
