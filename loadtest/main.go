package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"edutalk/internal/chat"
	"edutalk/internal/config"
	"edutalk/internal/logging"
	"edutalk/internal/models"
	"edutalk/internal/session"
)

type options struct {
	apiURL   string
	wsURL    string
	pairs    int
	messages int
	interval time.Duration
	settle   time.Duration
	password string
	logLevel string
}

type stats struct {
	authFailed atomic.Int64
	sent       atomic.Int64
	sendFailed atomic.Int64
	received   atomic.Int64
	seen       atomic.Int64
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive pairs of EduTalk clients against a backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.StringVar(&opts.apiURL, "api-url", config.DefaultAPIURL, "REST base URL")
	f.StringVar(&opts.wsURL, "ws-url", config.DefaultWSURL, "WebSocket URL")
	f.IntVar(&opts.pairs, "pairs", 50, "number of user pairs")
	f.IntVar(&opts.messages, "messages", 20, "messages per user")
	f.DurationVar(&opts.interval, "interval", 10*time.Millisecond, "pause between sends")
	f.DurationVar(&opts.settle, "settle", 5*time.Second, "how long to wait for pushes after the last send")
	f.StringVar(&opts.password, "password", "password123", "password for generated accounts")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	log, err := logging.New(opts.logLevel, "")
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("load_test_started", zap.Int("users", opts.pairs*2), zap.Int("messages_per_user", opts.messages))
	start := time.Now()
	st := &stats{}

	// User 0 talks to user 1, user 2 to user 3, and so on.
	var wg sync.WaitGroup
	for i := 0; i < opts.pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(ctx, opts, pairID, st, log.With(zap.Int("pair", pairID))); err != nil {
				log.Warn("pair_failed", zap.Int("pair", pairID), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	log.Info("load_test_complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("auth_failed", st.authFailed.Load()),
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("send_failed", st.sendFailed.Load()),
		zap.Int64("received", st.received.Load()),
		zap.Int64("seen", st.seen.Load()),
	)
	return nil
}

func newClient(opts options, log *zap.Logger) *chat.Client {
	return chat.New(chat.Options{
		APIURL: opts.apiURL,
		WSURL:  opts.wsURL,
		Store:  &session.MemoryStore{},
		Logger: log,
	})
}

func runPair(ctx context.Context, opts options, pairID int, st *stats, log *zap.Logger) error {
	a := newClient(opts, log.Named("a"))
	defer a.Close()
	b := newClient(opts, log.Named("b"))
	defer b.Close()

	if err := authenticate(ctx, a, fmt.Sprintf("u_%d_a", pairID), opts.password); err != nil {
		st.authFailed.Add(1)
		return err
	}
	if err := authenticate(ctx, b, fmt.Sprintf("u_%d_b", pairID), opts.password); err != nil {
		st.authFailed.Add(1)
		return err
	}

	convID, err := conversationWith(ctx, a, b.Session.UserID())
	if err != nil {
		return err
	}
	if err := b.Select(ctx, convID); err != nil {
		return err
	}

	var sendWg sync.WaitGroup
	for _, c := range []*chat.Client{a, b} {
		sendWg.Add(1)
		go func(c *chat.Client) {
			defer sendWg.Done()
			spamChat(ctx, c, opts, st)
		}(c)
	}
	sendWg.Wait()

	// Both sides have every message once their own sends are confirmed and
	// the peer's arrived by push.
	want := 2 * opts.messages
	deadline := time.Now().Add(opts.settle)
	for time.Now().Before(deadline) && (len(a.Messages.Messages()) < want || len(b.Messages.Messages()) < want) {
		time.Sleep(50 * time.Millisecond)
	}
	for _, c := range []*chat.Client{a, b} {
		for _, m := range c.Messages.Messages() {
			if m.SenderID == c.Session.UserID() {
				if m.Status == models.StatusSeen {
					st.seen.Add(1)
				}
				continue
			}
			st.received.Add(1)
		}
	}
	log.Info("pair_finished", zap.Int("a_messages", len(a.Messages.Messages())), zap.Int("b_messages", len(b.Messages.Messages())))
	return nil
}

// authenticate registers the user, or logs in if the account already exists.
func authenticate(ctx context.Context, c *chat.Client, username, password string) error {
	email := username + "@loadtest.edutalk"
	err := c.Register(ctx, models.RegisterData{
		Username: username,
		Name:     username,
		Lastname: "Load",
		Email:    email,
		Password: password,
		Grade:    models.Grades[0],
	})
	if err == nil {
		return nil
	}
	if lerr := c.Login(ctx, models.LoginCredentials{Email: email, Password: password}); lerr != nil {
		return errors.Join(err, lerr)
	}
	return nil
}

// conversationWith starts a conversation with otherID, or reuses the one a
// previous run created.
func conversationWith(ctx context.Context, c *chat.Client, otherID string) (string, error) {
	id, err := c.StartConversation(ctx, otherID)
	if err == nil {
		return id, nil
	}
	if rerr := c.Refresh(ctx); rerr != nil {
		return "", errors.Join(err, rerr)
	}
	for _, conv := range c.Conversations.List() {
		if p, ok := conv.Other(c.Session.UserID()); ok && p.ID == otherID {
			return conv.ID, c.Select(ctx, conv.ID)
		}
	}
	return "", err
}

func spamChat(ctx context.Context, c *chat.Client, opts options, st *stats) {
	for i := 0; i < opts.messages; i++ {
		if err := c.Send(ctx, fmt.Sprintf("LoadTest Msg %d from %s", i, c.Session.State().Email)); err != nil {
			st.sendFailed.Add(1)
		} else {
			st.sent.Add(1)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.interval):
		}
	}
}
