package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"edutalk/internal/api"
	"edutalk/internal/models"
	"edutalk/internal/realtime"
	"edutalk/internal/session"
)

const connectTimeout = 15 * time.Second

// Options configure a Client. Zero values fall back to sensible defaults.
type Options struct {
	APIURL string
	WSURL  string

	Store  session.Store
	Relay  realtime.Relay
	Logger *zap.Logger

	ConfirmDelay time.Duration
	// SeenRate caps read receipts per second; 0 disables throttling.
	SeenRate  float64
	SeenBurst int

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client wires the session, the REST API, the push transport, the
// conversation list and the message reconciler. The socket follows the
// session: it connects when a token is set and closes when it is cleared.
type Client struct {
	Session       *session.Holder
	API           *api.Client
	Conversations *Conversations
	Messages      *Reconciler

	hub  *realtime.Hub
	conn *realtime.Conn
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	userID   string
	convSub  *realtime.Subscription
	selected string
}

func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	holder := session.NewHolder(opts.Store)

	apiOpts := []api.Option{api.WithLogger(log.Named("api"))}
	if opts.HTTPClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	rest := api.New(opts.APIURL, holder, apiOpts...)

	hubOpts := []realtime.HubOption{realtime.WithHubLogger(log.Named("hub"))}
	if opts.Relay != nil {
		hubOpts = append(hubOpts, realtime.WithRelay(opts.Relay))
	}
	hub := realtime.NewHub(hubOpts...)

	connOpts := []realtime.ConnOption{realtime.WithConnLogger(log.Named("socket"))}
	if opts.Dialer != nil {
		connOpts = append(connOpts, realtime.WithDialer(opts.Dialer))
	}
	conn := realtime.NewConn(opts.WSURL, hub, connOpts...)

	recOpts := []ReconcilerOption{WithReconcilerLogger(log.Named("messages"))}
	if opts.ConfirmDelay > 0 {
		recOpts = append(recOpts, WithConfirmDelay(opts.ConfirmDelay))
	}
	if opts.SeenRate > 0 {
		burst := opts.SeenBurst
		if burst < 1 {
			burst = 1
		}
		recOpts = append(recOpts, WithSeenLimiter(rate.NewLimiter(rate.Limit(opts.SeenRate), burst)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		Session:       holder,
		API:           rest,
		Conversations: NewConversations(rest, holder, log.Named("conversations")),
		Messages:      NewReconciler(rest, conn, holder, recOpts...),
		hub:           hub,
		conn:          conn,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		hub.Run(ctx)
	}()
	c.followStatus()
	holder.OnChange(c.onSession)
	return c
}

// Start restores a persisted session, which also connects the socket.
func (c *Client) Start(ctx context.Context) error {
	return c.Session.Load(ctx)
}

func (c *Client) Login(ctx context.Context, creds models.LoginCredentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	res, err := c.API.Login(ctx, creds)
	if err != nil {
		return err
	}
	return c.Session.Set(ctx, res.Token)
}

func (c *Client) Register(ctx context.Context, data models.RegisterData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	res, err := c.API.Register(ctx, data)
	if err != nil {
		return err
	}
	return c.Session.Set(ctx, res.Token)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Session.Clear(ctx)
}

// Refresh reloads the conversation list.
func (c *Client) Refresh(ctx context.Context) error {
	return c.check(c.Conversations.Refresh(ctx))
}

// Select makes conversationID the active conversation: it moves the push
// subscription over and loads the history.
func (c *Client) Select(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.convSub != nil {
		c.convSub.Close()
		c.convSub = nil
	}
	c.selected = conversationID
	if conversationID != "" {
		c.convSub = c.hub.Subscribe(realtime.ConversationTopic(conversationID))
		c.follow(c.convSub, c.onConversationEvent)
	}
	c.mu.Unlock()

	if conversationID == "" {
		c.Messages.Reset()
		return nil
	}
	err := c.Messages.LoadHistory(ctx, conversationID)
	if err == nil {
		if msgs := c.Messages.Messages(); len(msgs) > 0 {
			c.Conversations.SetLastMessage(conversationID, msgs[len(msgs)-1].Content)
		}
	}
	return c.check(err)
}

// Selected is the conversation chosen by the last Select.
func (c *Client) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Client) Send(ctx context.Context, text string) error {
	err := c.Messages.SendMessage(ctx, text)
	if err == nil {
		c.Conversations.SetLastMessage(c.Messages.ConversationID(), text)
	}
	return c.check(err)
}

func (c *Client) Resend(ctx context.Context, clientID string) error {
	return c.check(c.Messages.Resend(ctx, clientID))
}

func (c *Client) AvailableUsers(ctx context.Context) ([]models.User, error) {
	users, err := c.Conversations.AvailableUsers(ctx)
	return users, c.check(err)
}

// StartConversation creates a conversation with otherUserID and selects it.
func (c *Client) StartConversation(ctx context.Context, otherUserID string) (string, error) {
	id, err := c.Conversations.Create(ctx, otherUserID)
	if err != nil && id == "" {
		return "", c.check(err)
	}
	return id, c.check(c.Select(ctx, id))
}

func (c *Client) Logger() *zap.Logger { return c.log }

// Connected reports whether the push socket is up.
func (c *Client) Connected() bool { return c.conn.Connected() }

// Close disconnects, stops background work and the hub.
func (c *Client) Close() {
	c.conn.Close()
	c.Messages.Close()
	c.cancel()
	c.wg.Wait()
}

// check clears the session when the backend no longer accepts the token.
func (c *Client) check(err error) error {
	if errors.Is(err, api.ErrUnauthorized) && c.Session.Active() {
		c.log.Info("session_rejected")
		if cerr := c.Session.Clear(c.ctx); cerr != nil {
			c.log.Warn("session_clear_failed", zap.Error(cerr))
		}
	}
	return err
}

func (c *Client) onSession(s session.State) {
	c.mu.Lock()
	changed := s.UserID != c.userID
	c.userID = s.UserID
	c.mu.Unlock()

	if changed {
		c.conn.Close()
		c.Select(c.ctx, "")
		c.Conversations.Reset()
	}
	if !s.Active() {
		c.log.Info("logged_out")
		return
	}
	if c.conn.Connected() {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, connectTimeout)
	defer cancel()
	if err := c.conn.Connect(ctx, s.Token); err != nil {
		// REST keeps working without push; the next session change retries.
		c.log.Warn("socket_connect_failed", zap.Error(err))
	}
}

func (c *Client) onStatus(env realtime.Envelope) {
	var change models.StatusChange
	if err := env.Decode(&change); err != nil || change.MessageID == "" {
		c.log.Debug("status_event_ignored", zap.ByteString("data", env.Data))
		return
	}
	status, ok := models.ParseStatus(string(change.Status))
	if !ok {
		c.log.Debug("status_event_ignored", zap.String("state", string(change.Status)))
		return
	}
	c.Messages.ApplyStatusUpdate(change.MessageID, status)
}

func (c *Client) onConversationEvent(env realtime.Envelope) {
	conv, ok := realtime.ConversationOf(env.Event)
	if !ok {
		return
	}
	var m models.Message
	if err := env.Decode(&m); err != nil {
		c.log.Debug("message_event_ignored", zap.Error(err))
		return
	}
	if m.ConversationID == "" {
		m.ConversationID = conv
	}
	if c.Messages.ApplyIncoming(m) {
		c.Conversations.SetLastMessage(conv, m.Content)
	}
}

// followStatus keeps a chat.message.state subscription alive for the life of
// the client. The hub closes subscribers that fall behind; a new one is taken
// out each time until the client or the hub stops.
func (c *Client) followStatus() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			sub := c.hub.Subscribe(realtime.EventStatus)
			for env := range sub.C {
				c.onStatus(env)
			}
			select {
			case <-c.ctx.Done():
				return
			case <-c.hub.Done():
				return
			default:
			}
			c.log.Warn("status_subscription_restored")
		}
	}()
}

// follow drains sub on its own goroutine until the subscription closes.
func (c *Client) follow(sub *realtime.Subscription, fn func(realtime.Envelope)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for env := range sub.C {
			fn(env)
		}
	}()
}
