package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"edutalk/internal/models"
)

// TokenSource supplies the bearer token attached to each request.
type TokenSource interface {
	Token() string
}

// Client talks to the EduTalk REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Login(ctx context.Context, creds models.LoginCredentials) (*models.AuthResponse, error) {
	var res models.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", creds, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Register(ctx context.Context, data models.RegisterData) (*models.AuthResponse, error) {
	var res models.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return list[models.Conversation](ctx, c, "/api/conversation/user/"+url.PathEscape(userID))
}

func (c *Client) UsersWithConversation(ctx context.Context, userID string) ([]models.User, error) {
	return list[models.User](ctx, c, "/api/user/with-conversation/"+url.PathEscape(userID))
}

func (c *Client) UsersWithoutConversation(ctx context.Context, userID string) ([]models.User, error) {
	return list[models.User](ctx, c, "/api/user/without-conversation/"+url.PathEscape(userID))
}

func (c *Client) CreateConversation(ctx context.Context, participantOne, participantTwo string) (*models.Conversation, error) {
	body := models.NewConversation{ParticipantOneID: participantOne, ParticipantTwoID: participantTwo}
	var conv models.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversation", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return list[models.Message](ctx, c, "/api/message/conversation/"+url.PathEscape(conversationID))
}

func (c *Client) CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	var created models.Message
	if err := c.do(ctx, http.MethodPost, "/api/message", msg, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateMessageStatus(ctx context.Context, messageID string, status models.Status) error {
	body := map[string]models.Status{"state": status}
	return c.do(ctx, http.MethodPatch, "/api/message/state/"+url.PathEscape(messageID), body, nil)
}

func list[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		c.log.Warn("unexpected_list_format", zap.String("path", path), zap.ByteString("body", truncate(trimmed)))
		return nil, fmt.Errorf("%s: %w", path, ErrUnexpectedFormat)
	}
	var out []T
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrUnexpectedFormat, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("api_request_failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("api_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Code: resp.StatusCode}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &payload) == nil {
		se.Message = payload.Error
		if se.Message == "" {
			se.Message = payload.Message
		}
	} else {
		se.Message = strings.TrimSpace(string(b))
	}
	return se
}

func truncate(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
