// Package gateway is the request/response client for the HTTP chat
// gateway: conversation listing, history pages and message submission.
// It holds no chat state; the realtime connection lives in transport.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agrolink/chatsync/internal/chat"
)

const defaultTimeout = 30 * time.Second

// Client talks to the HTTP gateway with a bearer credential.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a gateway client for the given base URL.
func NewClient(baseURL, credential string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type conversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

// ListConversations returns every conversation the account participates in.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp conversationsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return resp.Conversations, nil
}

// Messages fetches up to limit messages strictly older than the cursor
// (or the newest page for a zero cursor), ordered ascending by creation
// time. Both cursor fields go on the wire: a message is older when its
// timestamp is smaller, or equal with a lexicographically smaller
// identifier. The archive pages with the same rule, so either source
// resumes the other's cursor without gaps or repeats.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int, before chat.Cursor) ([]chat.Message, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if !before.IsZero() {
		query.Set("before", before.MessageID)
		query.Set("beforeTs", strconv.FormatInt(before.TimestampMs, 10))
	}
	data, err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	var resp messagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return resp.Messages, nil
}

type postMessageRequest struct {
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
	Token       string            `json:"token,omitempty"`
}

// PostMessage submits a message over HTTP and returns the server-assigned
// record. Used as the manual retry path for failed sends; the original
// correlation token rides along so a late realtime ack still matches.
func (c *Client) PostMessage(ctx context.Context, conversationID, content string, attachments []chat.Attachment, token string) (chat.Message, error) {
	body := postMessageRequest{Content: content, Attachments: attachments, Token: token}
	data, err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/messages", body, nil)
	if err != nil {
		return chat.Message{}, err
	}
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return chat.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", chat.ErrNetwork, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", chat.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s: HTTP %d", chat.ErrAuthentication, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", chat.ErrNotFound, method, path)
	default:
		return nil, fmt.Errorf("%w: %s %s: HTTP %d", chat.ErrNetwork, method, path, resp.StatusCode)
	}
}
