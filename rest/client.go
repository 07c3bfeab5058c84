// Package rest is the consuming side of the collaborator service that owns
// persistence and auth: conversation list, per-counterparty history, unread
// totals, send, and read acknowledgements. The core treats that service as a
// black box — this client is the only file that knows its paths.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/models"
)

// ErrUnauthorized is returned when the collaborator rejects the bearer
// credential (401/403). Callers branch on it with errors.Is — the transport
// counts these toward its circuit breaker, while every other error is
// transient and retryable.
var ErrUnauthorized = errors.New("credential rejected by service")

type Client struct {
	base     string
	http     *http.Client
	logger   *zap.Logger
	pageSize int

	// mu guards token: Reauthenticate swaps it mid-session while request
	// goroutines read it.
	mu    sync.RWMutex
	token string
}

func NewClient(baseURL, token string, pageSize int, logger *zap.Logger) *Client {
	return &Client{
		base:     baseURL,
		token:    token,
		http:     &http.Client{},
		logger:   logger,
		pageSize: pageSize,
	}
}

// SetToken installs a fresh credential after re-authentication.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Conversations fetches the full conversation list, newest-activity first
// (server order). A malformed body degrades to an empty list, never an
// error: the directory would rather show nothing than crash the surface.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Conversation{}
	}
	return out, nil
}

// History fetches the message history for one counterparty, bounded by the
// configured page size. The server may return any order; ordering is the
// stream buffer's job, not the wire's.
func (c *Client) History(ctx context.Context, key string) ([]models.Message, error) {
	path := "/v1/conversations/" + key + "/messages?limit=" + strconv.Itoa(c.pageSize)
	var out []models.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

// UnreadTotal fetches the aggregate unread count for the viewer. Only the
// normal-scope path uses it; elevated scope sums per-conversation counts
// locally instead.
func (c *Client) UnreadTotal(ctx context.Context) (int, error) {
	var out struct {
		Unread int `json:"unread"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/unread", nil, &out); err != nil {
		return 0, err
	}
	return out.Unread, nil
}

type sendRequest struct {
	Body string `json:"body"`
}

// Send posts a new message to a counterparty and returns the authoritative
// server copy (with its real ID and timestamp).
func (c *Client) Send(ctx context.Context, key, body string) (*models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+key+"/messages", sendRequest{Body: body}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead acknowledges every unread message from one counterparty.
func (c *Client) MarkRead(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/v1/conversations/"+key+"/read", nil, nil)
}

// MarkAllRead acknowledges everything at once (the internal-mail surface
// exposes this as a single button).
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/read-all", nil, nil)
}

// do runs one request: marshal body, attach bearer, check status, decode.
//
// Status handling:
//   - 401/403 → ErrUnauthorized (auth taxonomy; feeds the breaker).
//   - other non-2xx → plain error (transient taxonomy).
//   - 2xx with a body that won't decode → zero value + warn log, nil error.
//     A half-broken collaborator response degrades to "empty", it does not
//     take the chat surface down.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Warn("malformed response body, using zero value",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return nil
}
