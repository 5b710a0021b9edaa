package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TokenSource supplies bearer tokens and recovers from authorization
// failures. The client calls Recover at most once per request: the request
// is marked already-retried before the replay, so a second 401 fails.
type TokenSource interface {
	// Token returns a token valid for an ordinary request.
	Token(ctx context.Context) (string, error)
	// Recover is invoked after a 401 on a not-yet-retried request. It
	// refreshes (or joins an in-flight refresh) and returns the new token.
	Recover(ctx context.Context) (string, error)
}

// ErrUnauthorized is returned when a request fails with 401 and the replay
// (or the refresh behind it) did not help.
type ErrUnauthorized struct {
	Body string
}

func (e *ErrUnauthorized) Error() string {
	return "unauthorized: " + e.Body
}

// Client provides REST API access to the monitoring backend.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g. "https://host/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetTokenSource wires the session guardian in. Requests made without a
// token source are sent unauthenticated.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Authentication endpoints. Neither participates in the 401 replay loop:
// a failed login or refresh is final here and handled by the caller.

// Login authenticates with credentials and returns a new session.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.post(ctx, "/auth/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.post(ctx, "/auth/refresh", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Messaging endpoints

// SendMessage submits a message and returns it with the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*MessageInfo, error) {
	var resp MessageInfo
	if err := c.post(ctx, "/messages", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkDelivered posts a delivery receipt for a message.
func (c *Client) MarkDelivered(ctx context.Context, messageID string) error {
	return c.post(ctx, "/messages/"+url.PathEscape(messageID)+"/delivered", nil, nil, true)
}

// MarkRead posts a read receipt for a message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.post(ctx, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil, true)
}

// ClearThread removes the caller's copy of a thread's history. The other
// party's copy is untouched.
func (c *Client) ClearThread(ctx context.Context, threadKey string) error {
	return c.request(ctx, "DELETE", "/threads/"+url.PathEscape(threadKey), nil, nil, true, false)
}

// GetHistory retrieves message history for a thread.
func (c *Client) GetHistory(ctx context.Context, threadKey string, limit int) (*HistoryResponse, error) {
	path := fmt.Sprintf("/threads/%s/messages?limit=%d", url.PathEscape(threadKey), limit)
	var resp HistoryResponse
	if err := c.get(ctx, path, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDirectory returns the user directory used for presence enrichment.
func (c *Client) GetDirectory(ctx context.Context) ([]UserInfo, error) {
	var resp []UserInfo
	if err := c.get(ctx, "/directory/users", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	return c.request(ctx, "POST", path, body, dest, requireAuth, false)
}

func (c *Client) get(ctx context.Context, path string, dest any, requireAuth bool) error {
	return c.request(ctx, "GET", path, nil, dest, requireAuth, false)
}

func (c *Client) request(ctx context.Context, method, path string, body, dest any, requireAuth, retried bool) error {
	var bodyReader io.Reader
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if requireAuth && c.tokens != nil {
		var token string
		if retried {
			token, err = c.tokens.Recover(ctx)
		} else {
			token, err = c.tokens.Token(ctx)
		}
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	status, err := c.do(req, dest)
	if status == http.StatusUnauthorized && requireAuth && c.tokens != nil && !retried {
		// Single replay: the retried flag prevents an infinite loop when
		// the server keeps answering 401 after a successful refresh.
		return c.request(ctx, method, path, body, dest, requireAuth, true)
	}
	return err
}

func (c *Client) do(req *http.Request, dest any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, &ErrUnauthorized{Body: string(body)}
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return resp.StatusCode, fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return resp.StatusCode, fmt.Errorf("http error: %s (status %d)", string(body), resp.StatusCode)
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
