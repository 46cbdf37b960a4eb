// Package client is a Go consumer of the chat gateway API. It wraps the
// HTTP/SSE surface in a session state machine so callers deal in messages and
// turns, not transports and quota wire formats.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/stream"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

// Client talks to a chat gateway server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// New creates a client for the given server. token is the bearer token sent
// on every request.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No overall timeout: chat responses stream for as long as the
		// model generates.
		httpClient: &http.Client{},
		logger:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuotaExceededError is returned when the server rejects a chat request with
// a 429 and an authoritative limit snapshot. It is an expected, recoverable
// condition, distinct from transport failures.
type QuotaExceededError struct {
	Message   string
	LimitInfo *model.LimitInfo
}

func (e *QuotaExceededError) Error() string {
	return e.Message
}

// APIError is any other non-200 response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// ChatStream is an open streaming chat response. The caller must drain it
// with Next and Close it when done.
type ChatStream struct {
	body    io.ReadCloser
	decoder *stream.Decoder
}

// Next returns the next event, or io.EOF at end of stream.
func (s *ChatStream) Next() (stream.Event, error) {
	return s.decoder.Next()
}

// Close releases the underlying response body.
func (s *ChatStream) Close() error {
	return s.body.Close()
}

// StreamChat opens a streaming chat turn. A 429 is returned as
// *QuotaExceededError; other non-200 statuses as *APIError.
func (c *Client) StreamChat(ctx context.Context, req model.ChatRequest) (*ChatStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var errResp model.ErrorResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&errResp); decErr != nil {
			errResp.Error = resp.Status
		}
		if resp.StatusCode == http.StatusTooManyRequests && errResp.LimitInfo != nil {
			return nil, &QuotaExceededError{Message: errResp.Error, LimitInfo: errResp.LimitInfo}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	return &ChatStream{
		body:    resp.Body,
		decoder: stream.NewDecoder(resp.Body, c.logger),
	}, nil
}

// SessionPayload is one session's full message history.
type SessionPayload struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title,omitempty"`
	Messages       []model.Message `json:"messages"`
}

// ActiveSession fetches the most recent open session. Absence is a normal
// outcome, not an error: it returns (nil, nil) on 404.
func (c *Client) ActiveSession(ctx context.Context) (*SessionPayload, error) {
	var payload SessionPayload
	err := c.getJSON(ctx, "/api/chat/session?active=true", &payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payload, nil
}

// Session fetches one session by conversation id.
func (c *Client) Session(ctx context.Context, conversationID string) (*SessionPayload, error) {
	var payload SessionPayload
	path := "/api/chat/session?conversationId=" + url.QueryEscape(conversationID)
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Sessions lists the caller's session history, most recent first.
func (c *Client) Sessions(ctx context.Context) ([]model.SessionSummary, error) {
	var payload struct {
		Sessions []model.SessionSummary `json:"sessions"`
	}
	if err := c.getJSON(ctx, "/api/chat/sessions", &payload); err != nil {
		return nil, err
	}
	return payload.Sessions, nil
}

// RenameSession sets a session title.
func (c *Client) RenameSession(ctx context.Context, conversationID, title string) error {
	body, err := json.Marshal(model.RenameSessionRequest{Title: title})
	if err != nil {
		return err
	}
	path := c.baseURL + "/api/chat/session?conversationId=" + url.QueryEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	return c.doExpectOK(req)
}

// DeleteSession closes a session. Server-side history is retained.
func (c *Client) DeleteSession(ctx context.Context, conversationID string) error {
	path := c.baseURL + "/api/chat/session?conversationId=" + url.QueryEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	return c.doExpectOK(req)
}

// Agents lists the selectable chat personas.
func (c *Client) Agents(ctx context.Context) ([]model.Agent, error) {
	var payload struct {
		Agents []model.Agent `json:"agents"`
	}
	if err := c.getJSON(ctx, "/api/chat/agents", &payload); err != nil {
		return nil, err
	}
	return payload.Agents, nil
}

// Usage fetches the caller's current daily usage snapshot.
func (c *Client) Usage(ctx context.Context) (*model.UsageStats, error) {
	var stats model.UsageStats
	if err := c.getJSON(ctx, "/api/chat/usage", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doExpectOK(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func readAPIError(resp *http.Response) error {
	var errResp model.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
		errResp.Error = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
