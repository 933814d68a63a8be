package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"edutalk/internal/models"
	"edutalk/internal/realtime"
)

// MessageAPI is the part of the REST client the reconciler needs.
type MessageAPI interface {
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status models.Status) error
}

// Emitter publishes push events to the other clients of a conversation.
type Emitter interface {
	Emit(event string, data interface{}) error
}

// Identity names the local user.
type Identity interface {
	UserID() string
}

const DefaultConfirmDelay = 500 * time.Millisecond

// Reconciler owns the message list of the active conversation and merges
// history fetches, push events and optimistic local sends into it. The list
// keeps insertion order: fetch order first, then append order.
type Reconciler struct {
	notifier

	api          MessageAPI
	emit         Emitter
	self         Identity
	log          *zap.Logger
	confirmDelay time.Duration
	seen         *rate.Limiter

	// bg scopes status updates and delayed confirmations.
	bg     context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	mu             sync.Mutex
	conversationID string
	generation     uint64
	cancelLoad     context.CancelFunc
	loading        bool
	messages       []models.Message
	seenRequested  map[string]bool
	err            error
}

type ReconcilerOption func(*Reconciler)

func WithConfirmDelay(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.confirmDelay = d }
}

// WithSeenLimiter throttles read receipts. Without one they go out as fast
// as they are requested.
func WithSeenLimiter(l *rate.Limiter) ReconcilerOption {
	return func(r *Reconciler) { r.seen = l }
}

func WithReconcilerLogger(log *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = log }
}

// NewReconciler builds a reconciler. emit may be nil when no push transport
// is available; events are then skipped.
func NewReconciler(api MessageAPI, emit Emitter, self Identity, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		api:          api,
		emit:         emit,
		self:         self,
		log:          zap.NewNop(),
		confirmDelay: DefaultConfirmDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bg, r.stop = context.WithCancel(context.Background())
	return r
}

// LoadHistory makes conversationID active and replaces the list with a full
// fetch. Any earlier load still in flight is cancelled and its result
// discarded. Every inbound Unread message gets one Seen request.
func (r *Reconciler) LoadHistory(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	if r.cancelLoad != nil {
		r.cancelLoad()
	}
	r.generation++
	gen := r.generation
	r.conversationID = conversationID
	r.messages = nil
	r.seenRequested = make(map[string]bool)
	r.err = nil
	r.loading = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancelLoad = cancel
	r.mu.Unlock()
	r.notify()
	defer cancel()

	msgs, err := r.api.Messages(ctx, conversationID)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		r.log.Debug("history_discarded", zap.String("conversation_id", conversationID))
		return ErrSuperseded
	}
	r.loading = false
	r.cancelLoad = nil
	if err != nil {
		r.messages = nil
		r.err = fmt.Errorf("load messages: %w", err)
		err = r.err
		r.mu.Unlock()
		r.log.Warn("history_failed", zap.String("conversation_id", conversationID), zap.Error(err))
		r.notify()
		return err
	}

	r.messages = append(make([]models.Message, 0, len(msgs)), msgs...)
	var unread []string
	uid := r.self.UserID()
	for _, m := range msgs {
		if m.SenderID != uid && m.Status == models.StatusUnread && !r.seenRequested[m.ID] {
			r.seenRequested[m.ID] = true
			unread = append(unread, m.ID)
		}
	}
	r.mu.Unlock()
	r.notify()

	r.log.Debug("history_loaded",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", len(msgs)),
		zap.Int("unread", len(unread)),
	)
	for _, id := range unread {
		r.requestSeen(id, conversationID)
	}
	return nil
}

// SendMessage appends a Pending placeholder and creates the message. On
// success the placeholder is replaced by the server record, a chat.message
// event goes out and an Unread update follows after the confirm delay. On
// failure the placeholder stays unconfirmed and the error state is set.
func (r *Reconciler) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	r.mu.Lock()
	conv := r.conversationID
	if conv == "" {
		r.mu.Unlock()
		return ErrNoConversation
	}
	clientID := uuid.NewString()
	placeholder := models.Message{
		ID:             models.LocalIDPrefix + clientID,
		ClientID:       clientID,
		Content:        text,
		SenderID:       r.self.UserID(),
		ConversationID: conv,
		CreatedAt:      time.Now().UTC(),
		Status:         models.StatusPending,
	}
	r.messages = append(r.messages, placeholder)
	r.mu.Unlock()
	r.notify()

	return r.create(ctx, placeholder)
}

// Resend retries the create call for a placeholder that never got confirmed.
func (r *Reconciler) Resend(ctx context.Context, clientID string) error {
	r.mu.Lock()
	i := r.indexLocked("", clientID)
	if i < 0 || r.messages[i].Confirmed() {
		r.mu.Unlock()
		return ErrUnknownMessage
	}
	placeholder := r.messages[i]
	r.err = nil
	r.mu.Unlock()
	r.notify()

	return r.create(ctx, placeholder)
}

func (r *Reconciler) create(ctx context.Context, p models.Message) error {
	rec, err := r.api.CreateMessage(ctx, models.NewMessage{
		ConversationID: p.ConversationID,
		Content:        p.Content,
		SenderID:       p.SenderID,
		Status:         models.StatusPending,
		ClientID:       p.ClientID,
	})
	if err != nil {
		err = fmt.Errorf("send message: %w", err)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.notify()
		r.log.Warn("send_failed", zap.String("client_id", p.ClientID), zap.Error(err))
		return err
	}

	confirmed := *rec
	if confirmed.ClientID == "" {
		confirmed.ClientID = p.ClientID
	}
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = p.ConversationID
	}
	if confirmed.Status == "" {
		confirmed.Status = models.StatusPending
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = p.CreatedAt
	}

	r.mu.Lock()
	if r.conversationID == confirmed.ConversationID {
		r.upsertLocked(confirmed, false, false)
	}
	r.mu.Unlock()
	r.notify()

	// Peers always learn about a new message as Pending.
	announced := confirmed
	announced.Status = models.StatusPending
	r.publish(realtime.EventMessage, announced)
	r.after(r.confirmDelay, func(ctx context.Context) {
		r.updateStatus(ctx, confirmed.ID, confirmed.ConversationID, models.StatusUnread)
	})
	return nil
}

// ApplyIncoming merges a pushed message into the active conversation. It
// reports false when the message belongs to another conversation.
func (r *Reconciler) ApplyIncoming(m models.Message) bool {
	r.mu.Lock()
	if r.conversationID == "" || (m.ConversationID != "" && m.ConversationID != r.conversationID) {
		r.mu.Unlock()
		return false
	}
	if m.ConversationID == "" {
		m.ConversationID = r.conversationID
	}
	r.upsertLocked(m, true, true)
	requestSeen := m.ID != "" && m.SenderID != r.self.UserID() && !r.seenRequested[m.ID]
	if requestSeen {
		r.seenRequested[m.ID] = true
	}
	r.mu.Unlock()
	r.notify()

	if requestSeen {
		r.requestSeen(m.ID, m.ConversationID)
	}
	return true
}

// ApplyStatusUpdate overwrites the status of one message in place. Unknown
// ids are ignored. Transitions are not checked for order.
func (r *Reconciler) ApplyStatusUpdate(messageID string, status models.Status) bool {
	r.mu.Lock()
	i := r.indexLocked(messageID, "")
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	r.messages[i].Status = status
	r.mu.Unlock()
	r.notify()
	return true
}

// Reset forgets the active conversation and cancels any load in flight.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	if r.cancelLoad != nil {
		r.cancelLoad()
		r.cancelLoad = nil
	}
	r.generation++
	r.conversationID = ""
	r.messages = nil
	r.seenRequested = nil
	r.loading = false
	r.err = nil
	r.mu.Unlock()
	r.notify()
}

// Close cancels pending status updates and waits for background work.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()
	r.wg.Wait()
}

// Wait blocks until all background status updates have finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.messages...)
}

func (r *Reconciler) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Err is the last user-visible failure, cleared by DismissError and by the
// next history load.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reconciler) DismissError() {
	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) requestSeen(messageID, conversationID string) {
	r.spawn(func(ctx context.Context) {
		if r.seen != nil {
			if err := r.seen.Wait(ctx); err != nil {
				return
			}
		}
		r.updateStatus(ctx, messageID, conversationID, models.StatusSeen)
	})
}

// updateStatus patches the status remotely, then applies it locally and
// tells the other side. Failures only reach the debug log.
func (r *Reconciler) updateStatus(ctx context.Context, messageID, conversationID string, status models.Status) {
	if err := r.api.UpdateMessageStatus(ctx, messageID, status); err != nil {
		r.log.Debug("status_update_failed",
			zap.String("message_id", messageID),
			zap.String("state", string(status)),
			zap.Error(err),
		)
		return
	}
	r.ApplyStatusUpdate(messageID, status)
	r.publish(realtime.EventStatus, models.StatusChange{
		MessageID:      messageID,
		Status:         status,
		ConversationID: conversationID,
	})
}

func (r *Reconciler) publish(event string, data interface{}) {
	if r.emit == nil {
		return
	}
	if err := r.emit.Emit(event, data); err != nil {
		r.log.Debug("emit_failed", zap.String("event", event), zap.Error(err))
	}
}

func (r *Reconciler) spawn(fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		fn(r.bg)
	}()
}

func (r *Reconciler) after(d time.Duration, fn func(ctx context.Context)) {
	r.spawn(func(ctx context.Context) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			fn(ctx)
		case <-ctx.Done():
		}
	})
}

// indexLocked finds a message by server id or by correlation id.
func (r *Reconciler) indexLocked(id, clientID string) int {
	for i, m := range r.messages {
		if id != "" && m.ID == id {
			return i
		}
		if clientID != "" && m.ClientID == clientID {
			return i
		}
	}
	return -1
}

// upsertLocked replaces the entry matching m by id or correlation id and
// removes any later entry that matches too. With keepStatus the existing
// status survives the replacement, since statuses only move through explicit
// status updates. When nothing matches, m is appended only if appendMissing
// is set.
func (r *Reconciler) upsertLocked(m models.Message, appendMissing, keepStatus bool) {
	i := r.indexLocked(m.ID, m.ClientID)
	if i < 0 {
		if appendMissing {
			r.messages = append(r.messages, m)
		}
		return
	}
	if keepStatus {
		m.Status = r.messages[i].Status
	}
	r.messages[i] = m
	kept := r.messages[:i+1]
	for _, other := range r.messages[i+1:] {
		if (m.ID != "" && other.ID == m.ID) || (m.ClientID != "" && other.ClientID == m.ClientID) {
			continue
		}
		kept = append(kept, other)
	}
	r.messages = kept
}
