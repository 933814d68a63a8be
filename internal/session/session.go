package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// State is a snapshot of the session. The zero value means logged out.
type State struct {
	Token  string
	UserID string
	Email  string
	Type   string
}

func (s State) Active() bool { return s.Token != "" }

// Holder owns the authentication token for the process. It is set on
// login or register and cleared on logout.
type Holder struct {
	store Store

	mu        sync.RWMutex
	state     State
	listeners []func(State)
	now       func() time.Time
}

func NewHolder(store Store) *Holder {
	if store == nil {
		store = &MemoryStore{}
	}
	return &Holder{store: store, now: time.Now}
}

// OnChange registers fn to run after every Set and Clear. Listeners run on
// the caller's goroutine, outside the holder's lock.
func (h *Holder) OnChange(fn func(State)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Load restores a persisted token. A stored token that no longer decodes,
// or has expired, is removed and the holder stays logged out.
func (h *Holder) Load(ctx context.Context) error {
	token, err := h.store.Load(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	claims, err := Decode(token)
	if err != nil || claims.Expired(h.now()) {
		return h.store.Clear(ctx)
	}
	h.apply(stateFrom(token, claims))
	return nil
}

// Set installs and persists a new token. Expired tokens are rejected.
func (h *Holder) Set(ctx context.Context, token string) error {
	claims, err := Decode(token)
	if err != nil {
		return err
	}
	if claims.Expired(h.now()) {
		return fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	if err := h.store.Save(ctx, token); err != nil {
		return err
	}
	h.apply(stateFrom(token, claims))
	return nil
}

// Clear forgets the token. The in-memory state is cleared even when the
// store fails, so a broken store never keeps a user logged in.
func (h *Holder) Clear(ctx context.Context) error {
	err := h.store.Clear(ctx)
	h.apply(State{})
	return err
}

func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Holder) Token() string  { return h.State().Token }
func (h *Holder) UserID() string { return h.State().UserID }
func (h *Holder) Active() bool   { return h.State().Active() }

func (h *Holder) apply(s State) {
	h.mu.Lock()
	h.state = s
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func stateFrom(token string, c *Claims) State {
	return State{Token: token, UserID: string(c.ID), Email: c.Email, Type: c.Type}
}
