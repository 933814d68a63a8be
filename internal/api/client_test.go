package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"edutalk/internal/api"
	"edutalk/internal/apitest"
	"edutalk/internal/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestLoginAndRegister(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("Ana", "ana@edutalk.test", "secret123")
	c := api.New(srv.URL, nil)
	ctx := context.Background()

	res, err := c.Login(ctx, models.LoginCredentials{Email: "ana@edutalk.test", Password: "secret123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" {
		t.Fatalf("expected a token")
	}

	_, err = c.Login(ctx, models.LoginCredentials{Email: "ana@edutalk.test", Password: "wrong"})
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	reg := models.RegisterData{
		Username: "beto", Name: "Beto", Lastname: "Ruiz",
		Email: "beto@edutalk.test", Password: "pw", Grade: "3",
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res, err = c.Register(ctx, reg)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Token == "" {
		t.Fatalf("expected a token from register")
	}

	_, err = c.Register(ctx, reg)
	var se *api.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate register, got %v", err)
	}
}

func TestAuthenticatedCallsCarryBearerToken(t *testing.T) {
	srv := apitest.New(t)
	ana := srv.AddUser("Ana", "ana@edutalk.test", "pw")
	beto := srv.AddUser("Beto", "beto@edutalk.test", "pw")
	conv := srv.AddConversation(ana.ID, beto.ID)
	srv.AddMessage(conv.ID, beto.ID, "hola", models.StatusUnread)
	ctx := context.Background()

	anon := api.New(srv.URL, staticToken(""))
	if _, err := anon.Conversations(ctx, ana.ID); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without token, got %v", err)
	}

	c := api.New(srv.URL, staticToken(srv.TokenFor(ana.ID)))
	convs, err := c.Conversations(ctx, ana.ID)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID || convs[0].LastMessage != "hola" {
		t.Fatalf("unexpected conversations %+v", convs)
	}

	msgs, err := c.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Status != models.StatusUnread || msgs[0].SenderID != beto.ID {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	if err := c.UpdateMessageStatus(ctx, msgs[0].ID, models.StatusSeen); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	stored, _ := srv.Message(msgs[0].ID)
	if stored.Status != models.StatusSeen {
		t.Fatalf("status not stored: %+v", stored)
	}

	created, err := c.CreateMessage(ctx, models.NewMessage{
		ConversationID: conv.ID, Content: "hi", SenderID: ana.ID,
		Status: models.StatusPending, ClientID: "c-1",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if created.ID == "" || created.ClientID != "c-1" || created.Status != models.StatusPending {
		t.Fatalf("unexpected created message %+v", created)
	}
}

func TestConversationAndUserEndpoints(t *testing.T) {
	srv := apitest.New(t)
	ana := srv.AddUser("Ana", "ana@edutalk.test", "pw")
	beto := srv.AddUser("Beto", "beto@edutalk.test", "pw")
	caro := srv.AddUser("Caro", "caro@edutalk.test", "pw")
	c := api.New(srv.URL, staticToken(srv.TokenFor(ana.ID)))
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, ana.ID, beto.ID)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == "" || len(conv.Participants) != 2 {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	_, err = c.CreateConversation(ctx, ana.ID, ana.ID)
	if msg, ok := api.BackendMessage(err); !ok || msg == "" {
		t.Fatalf("expected backend error message, got %v", err)
	}

	with, err := c.UsersWithConversation(ctx, ana.ID)
	if err != nil {
		t.Fatalf("UsersWithConversation: %v", err)
	}
	if len(with) != 1 || with[0].ID != beto.ID {
		t.Fatalf("unexpected users with conversation %+v", with)
	}

	without, err := c.UsersWithoutConversation(ctx, ana.ID)
	if err != nil {
		t.Fatalf("UsersWithoutConversation: %v", err)
	}
	ids := map[string]bool{}
	for _, u := range without {
		ids[u.ID] = true
	}
	if !ids[caro.ID] || ids[beto.ID] {
		t.Fatalf("unexpected users without conversation %+v", without)
	}
}

func TestListRejectsNonArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages": []}`))
	}))
	defer ts.Close()

	_, err := api.New(ts.URL, nil).Messages(context.Background(), "c1")
	if !errors.Is(err, api.ErrUnexpectedFormat) {
		t.Fatalf("expected ErrUnexpectedFormat, got %v", err)
	}
}

func TestInjectedServerError(t *testing.T) {
	srv := apitest.New(t)
	ana := srv.AddUser("Ana", "ana@edutalk.test", "pw")
	srv.Fail(http.MethodGet, "/api/conversation/user/", http.StatusInternalServerError, 1)
	c := api.New(srv.URL, staticToken(srv.TokenFor(ana.ID)))

	_, err := c.Conversations(context.Background(), ana.ID)
	var se *api.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("500 must not look like an auth failure")
	}

	if _, err := c.Conversations(context.Background(), ana.ID); err != nil {
		t.Fatalf("failure should only apply once: %v", err)
	}
}
