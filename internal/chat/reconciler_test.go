package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edutalk/internal/models"
	"edutalk/internal/realtime"
)

type user string

func (u user) UserID() string { return string(u) }

type statusCall struct {
	id     string
	status models.Status
}

// stubAPI is an in-memory MessageAPI. gates, when set for a conversation,
// hold Messages until closed or the context ends.
type stubAPI struct {
	mu         sync.Mutex
	history    map[string][]models.Message
	gates      map[string]chan struct{}
	fetches    map[string]int
	created    []models.NewMessage
	updates    []statusCall
	createErr  error
	updateErr  error
	fetchErr   error
	createHold chan struct{}
	// createStatus, when set, replaces the status the backend echoes back.
	createStatus models.Status
	nextID       int
}

func newStubAPI() *stubAPI {
	return &stubAPI{
		history: make(map[string][]models.Message),
		gates:   make(map[string]chan struct{}),
		fetches: make(map[string]int),
	}
}

func (s *stubAPI) Messages(ctx context.Context, conv string) ([]models.Message, error) {
	s.mu.Lock()
	s.fetches[conv]++
	gate := s.gates[conv]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]models.Message(nil), s.history[conv]...), nil
}

func (s *stubAPI) CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	hold := s.createHold
	s.mu.Unlock()
	if hold != nil {
		<-hold
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, msg)
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	status := msg.Status
	if s.createStatus != "" {
		status = s.createStatus
	}
	return &models.Message{
		ID:             fmt.Sprintf("srv-%d", s.nextID),
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		ConversationID: msg.ConversationID,
		Status:         status,
		ClientID:       msg.ClientID,
		CreatedAt:      time.Now(),
	}, nil
}

func (s *stubAPI) UpdateMessageStatus(ctx context.Context, id string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, statusCall{id, status})
	return nil
}

func (s *stubAPI) calls() (created int, updates []statusCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created), append([]statusCall(nil), s.updates...)
}

type emitted struct {
	event string
	data  interface{}
}

type stubEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *stubEmitter) Emit(event string, data interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{event, data})
	return nil
}

func (e *stubEmitter) all() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

func newTestReconciler(t *testing.T, api *stubAPI, opts ...ReconcilerOption) (*Reconciler, *stubEmitter) {
	t.Helper()
	em := &stubEmitter{}
	opts = append([]ReconcilerOption{WithConfirmDelay(time.Millisecond)}, opts...)
	r := NewReconciler(api, em, user("u1"), opts...)
	t.Cleanup(r.Close)
	return r, em
}

func TestLoadHistoryMarksInboundUnreadSeen(t *testing.T) {
	api := newStubAPI()
	api.history["c1"] = []models.Message{{ID: "m1", SenderID: "u2", ConversationID: "c1", Content: "hola", Status: models.StatusUnread}}
	r, em := newTestReconciler(t, api)

	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	r.Wait()

	_, updates := api.calls()
	if len(updates) != 1 || updates[0] != (statusCall{"m1", models.StatusSeen}) {
		t.Fatalf("updates = %v, want one Seen for m1", updates)
	}
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.StatusSeen {
		t.Fatalf("messages = %+v", msgs)
	}
	events := em.all()
	if len(events) != 1 || events[0].event != realtime.EventStatus {
		t.Fatalf("events = %+v", events)
	}
	change := events[0].data.(models.StatusChange)
	if change.MessageID != "m1" || change.Status != models.StatusSeen || change.ConversationID != "c1" {
		t.Fatalf("status event = %+v", change)
	}
}

func TestLoadHistorySkipsOwnAndAlreadySeen(t *testing.T) {
	api := newStubAPI()
	api.history["c1"] = []models.Message{
		{ID: "m1", SenderID: "u1", Status: models.StatusUnread},
		{ID: "m2", SenderID: "u2", Status: models.StatusSeen},
		{ID: "m3", SenderID: "u2", Status: models.StatusUnread},
		{ID: "m4", SenderID: "u2", Status: models.StatusUnread},
		{ID: "m5", SenderID: "u2", Status: models.StatusPending},
	}
	r, _ := newTestReconciler(t, api)

	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	r.Wait()

	_, updates := api.calls()
	got := map[string]int{}
	for _, u := range updates {
		if u.status != models.StatusSeen {
			t.Fatalf("unexpected update %+v", u)
		}
		got[u.id]++
	}
	if len(got) != 2 || got["m3"] != 1 || got["m4"] != 1 {
		t.Fatalf("seen updates = %v, want exactly m3 and m4 once", got)
	}

	// Fetch order is kept.
	msgs := r.Messages()
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		if msgs[i].ID != id {
			t.Fatalf("msgs[%d] = %s, want %s", i, msgs[i].ID, id)
		}
	}
}

func TestLoadHistoryFailureLeavesEmptyList(t *testing.T) {
	api := newStubAPI()
	api.history["c1"] = []models.Message{{ID: "m1", SenderID: "u2", Status: models.StatusUnread}}
	r, _ := newTestReconciler(t, api)
	ctx := context.Background()
	if err := r.LoadHistory(ctx, "c1"); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	r.Wait()

	boom := errors.New("network down")
	api.mu.Lock()
	api.fetchErr = boom
	api.mu.Unlock()

	err := r.LoadHistory(ctx, "c1")
	if !errors.Is(err, boom) {
		t.Fatalf("LoadHistory err = %v", err)
	}
	if !errors.Is(r.Err(), boom) {
		t.Fatalf("Err() = %v", r.Err())
	}
	if len(r.Messages()) != 0 {
		t.Fatalf("messages not reset: %+v", r.Messages())
	}
	if r.ConversationID() != "c1" {
		t.Fatalf("conversation = %q", r.ConversationID())
	}
	if n := api.fetches["c1"]; n != 2 {
		t.Fatalf("fetches = %d, want 2 (no automatic retry)", n)
	}

	r.DismissError()
	if r.Err() != nil {
		t.Fatal("error not dismissed")
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	api := newStubAPI()
	api.history["a"] = []models.Message{{ID: "a1", SenderID: "u2", Status: models.StatusUnread}}
	api.history["b"] = []models.Message{{ID: "b1", SenderID: "u2", Status: models.StatusSeen}}
	gate := make(chan struct{})
	api.gates["a"] = gate
	r, _ := newTestReconciler(t, api)

	errA := make(chan error, 1)
	go func() { errA <- r.LoadHistory(context.Background(), "a") }()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.fetches["a"] == 1
	}, time.Second, time.Millisecond)

	if err := r.LoadHistory(context.Background(), "b"); err != nil {
		t.Fatalf("LoadHistory(b): %v", err)
	}
	close(gate)

	if err := <-errA; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("LoadHistory(a) = %v, want ErrSuperseded", err)
	}
	r.Wait()

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].ID != "b1" || r.ConversationID() != "b" {
		t.Fatalf("stale response leaked: conv=%s msgs=%+v", r.ConversationID(), msgs)
	}
	if _, updates := api.calls(); len(updates) != 0 {
		t.Fatalf("stale load issued updates: %v", updates)
	}
	if r.Err() != nil {
		t.Fatalf("stale load set error: %v", r.Err())
	}
}

func TestSendWithoutConversationDoesNothing(t *testing.T) {
	api := newStubAPI()
	r, em := newTestReconciler(t, api)

	if err := r.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("SendMessage = %v, want ErrNoConversation", err)
	}
	created, updates := api.calls()
	if created != 0 || len(updates) != 0 || len(em.all()) != 0 {
		t.Fatalf("network activity: created=%d updates=%v events=%v", created, updates, em.all())
	}
	if len(r.Messages()) != 0 {
		t.Fatalf("messages appended: %+v", r.Messages())
	}
	if r.Err() != nil {
		t.Fatalf("error surfaced: %v", r.Err())
	}
}

func TestSendRejectsBlankText(t *testing.T) {
	api := newStubAPI()
	r, _ := newTestReconciler(t, api)
	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"", " ", "\t\n  "} {
		if err := r.SendMessage(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("SendMessage(%q) = %v", text, err)
		}
	}
	if created, _ := api.calls(); created != 0 {
		t.Fatalf("created = %d", created)
	}
	if len(r.Messages()) != 0 {
		t.Fatalf("messages appended: %+v", r.Messages())
	}
}

func TestSendAppendsPendingBeforeResponse(t *testing.T) {
	api := newStubAPI()
	hold := make(chan struct{})
	api.createHold = hold
	r, em := newTestReconciler(t, api)
	ctx := context.Background()
	if err := r.LoadHistory(ctx, "c1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.SendMessage(ctx, "hi") }()

	require.Eventually(t, func() bool { return len(r.Messages()) == 1 }, time.Second, time.Millisecond)
	p := r.Messages()[0]
	if p.Status != models.StatusPending || p.Confirmed() || p.ClientID == "" || p.SenderID != "u1" || p.Content != "hi" {
		t.Fatalf("placeholder = %+v", p)
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	r.Wait()

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("placeholder duplicated: %+v", msgs)
	}
	m := msgs[0]
	if m.ID != "srv-1" || m.ClientID != p.ClientID || !m.Confirmed() {
		t.Fatalf("placeholder not replaced: %+v", m)
	}
	if m.Status != models.StatusUnread {
		t.Fatalf("status = %s, want Unread after confirm delay", m.Status)
	}

	_, updates := api.calls()
	if len(updates) != 1 || updates[0] != (statusCall{"srv-1", models.StatusUnread}) {
		t.Fatalf("updates = %v", updates)
	}

	events := em.all()
	if len(events) != 2 || events[0].event != realtime.EventMessage || events[1].event != realtime.EventStatus {
		t.Fatalf("events = %+v", events)
	}
	if sent := events[0].data.(models.Message); sent.Status != models.StatusPending || sent.ID != "srv-1" {
		t.Fatalf("chat.message payload = %+v", sent)
	}

	// The push echo of our own message must not add a second row.
	echo := m
	echo.Status = models.StatusPending
	if !r.ApplyIncoming(echo) {
		t.Fatal("echo rejected")
	}
	if n := len(r.Messages()); n != 1 {
		t.Fatalf("echo duplicated message: %d rows", n)
	}
}

func TestSendPublishesPendingWhateverTheBackendReturns(t *testing.T) {
	api := newStubAPI()
	api.createStatus = models.StatusUnread
	r, em := newTestReconciler(t, api)
	ctx := context.Background()
	if err := r.LoadHistory(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SendMessage(ctx, "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	r.Wait()

	events := em.all()
	if len(events) == 0 || events[0].event != realtime.EventMessage {
		t.Fatalf("events = %+v", events)
	}
	sent := events[0].data.(models.Message)
	if sent.Status != models.StatusPending || sent.ID != "srv-1" || sent.Content != "hi" {
		t.Fatalf("chat.message payload = %+v", sent)
	}
}

func TestSendFailureKeepsPlaceholderAndResend(t *testing.T) {
	api := newStubAPI()
	api.createErr = errors.New("timeout")
	r, em := newTestReconciler(t, api)
	ctx := context.Background()
	if err := r.LoadHistory(ctx, "c1"); err != nil {
		t.Fatal(err)
	}

	if err := r.SendMessage(ctx, "hi"); err == nil {
		t.Fatal("expected send error")
	}
	if r.Err() == nil {
		t.Fatal("error state not set")
	}
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.StatusPending || msgs[0].Confirmed() {
		t.Fatalf("placeholder rolled back or confirmed: %+v", msgs)
	}
	if len(em.all()) != 0 {
		t.Fatalf("events emitted after failed create: %+v", em.all())
	}

	if err := r.Resend(ctx, "nope"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("Resend(unknown) = %v", err)
	}

	api.mu.Lock()
	api.createErr = nil
	api.mu.Unlock()
	if err := r.Resend(ctx, msgs[0].ClientID); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	r.Wait()

	msgs = r.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].Status != models.StatusUnread {
		t.Fatalf("after resend: %+v", msgs)
	}
	if r.Err() != nil {
		t.Fatalf("error not cleared by resend: %v", r.Err())
	}
	if err := r.Resend(ctx, msgs[0].ClientID); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("Resend(confirmed) = %v", err)
	}
}

func TestApplyStatusUpdateTouchesOnlyTarget(t *testing.T) {
	api := newStubAPI()
	api.history["c1"] = []models.Message{
		{ID: "m1", SenderID: "u1", Content: "a", Status: models.StatusUnread},
		{ID: "m2", SenderID: "u1", Content: "b", Status: models.StatusUnread},
	}
	r, _ := newTestReconciler(t, api)
	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	before := r.Messages()

	if r.ApplyStatusUpdate("missing", models.StatusSeen) {
		t.Fatal("missing id reported as applied")
	}
	if got := r.Messages(); !equalMessages(got, before) {
		t.Fatalf("no-op changed list: %+v", got)
	}

	if !r.ApplyStatusUpdate("m2", models.StatusSeen) {
		t.Fatal("m2 not found")
	}
	got := r.Messages()
	want := append([]models.Message(nil), before...)
	want[1].Status = models.StatusSeen
	if !equalMessages(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	// No monotonicity: a later update may move backwards.
	r.ApplyStatusUpdate("m2", models.StatusPending)
	if r.Messages()[1].Status != models.StatusPending {
		t.Fatal("status not overwritten")
	}
}

func TestApplyIncoming(t *testing.T) {
	api := newStubAPI()
	r, _ := newTestReconciler(t, api)
	if r.ApplyIncoming(models.Message{ID: "x", ConversationID: "c1"}) {
		t.Fatal("applied with no active conversation")
	}
	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	if r.ApplyIncoming(models.Message{ID: "o1", ConversationID: "other", SenderID: "u2"}) {
		t.Fatal("message for another conversation applied")
	}

	in := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hey", Status: models.StatusUnread}
	if !r.ApplyIncoming(in) {
		t.Fatal("inbound message rejected")
	}
	r.ApplyIncoming(in)
	r.Wait()

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}
	_, updates := api.calls()
	if len(updates) != 1 || updates[0] != (statusCall{"m1", models.StatusSeen}) {
		t.Fatalf("updates = %v, want one Seen", updates)
	}

	own := models.Message{ID: "m2", ConversationID: "c1", SenderID: "u1", Content: "mine", Status: models.StatusUnread}
	r.ApplyIncoming(own)
	r.Wait()
	if _, updates := api.calls(); len(updates) != 1 {
		t.Fatalf("own message marked seen: %v", updates)
	}
}

func TestApplyIncomingRequestsSeenForAnyInboundStatus(t *testing.T) {
	api := newStubAPI()
	r, _ := newTestReconciler(t, api)
	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	r.ApplyIncoming(models.Message{ID: "m9", ConversationID: "c1", SenderID: "u2", Content: "seen elsewhere", Status: models.StatusSeen})
	r.Wait()
	_, updates := api.calls()
	if len(updates) != 1 || updates[0] != (statusCall{"m9", models.StatusSeen}) {
		t.Fatalf("updates = %v, want one Seen for m9", updates)
	}
}

func TestStatusUpdateFailureIsSwallowed(t *testing.T) {
	api := newStubAPI()
	api.history["c1"] = []models.Message{{ID: "m1", SenderID: "u2", Status: models.StatusUnread}}
	api.updateErr = errors.New("502")
	r, em := newTestReconciler(t, api)

	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	r.Wait()

	if r.Err() != nil {
		t.Fatalf("status failure surfaced: %v", r.Err())
	}
	if got := r.Messages()[0].Status; got != models.StatusUnread {
		t.Fatalf("status = %s, want unchanged Unread", got)
	}
	if len(em.all()) != 0 {
		t.Fatalf("events emitted after failed update: %+v", em.all())
	}
}

func TestChangesAreCoalesced(t *testing.T) {
	api := newStubAPI()
	r, _ := newTestReconciler(t, api)
	ch := r.Changes()

	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	r.ApplyIncoming(models.Message{ID: "m1", SenderID: "u1"})

	select {
	case <-ch:
	default:
		t.Fatal("no change signalled")
	}
	select {
	case <-ch:
		t.Fatal("changes not coalesced")
	default:
	}
}

func TestResetForgetsConversation(t *testing.T) {
	api := newStubAPI()
	api.history["c1"] = []models.Message{{ID: "m1", SenderID: "u1"}}
	r, _ := newTestReconciler(t, api)
	if err := r.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	r.Reset()
	if r.ConversationID() != "" || len(r.Messages()) != 0 {
		t.Fatalf("state after reset: conv=%q msgs=%+v", r.ConversationID(), r.Messages())
	}
	if err := r.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("SendMessage after reset = %v", err)
	}
}

func equalMessages(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status || a[i].Content != b[i].Content || a[i].SenderID != b[i].SenderID {
			return false
		}
	}
	return true
}
