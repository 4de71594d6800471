package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"passkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the passkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// Enroll registers a user in a pass type at tier 1.
func (c *Client) Enroll(ctx context.Context, userID, passID string) (User, error) {
	var u User
	err := c.userCall(ctx, http.MethodPost, userID, "/enroll", nil, map[string]string{"pass_id": passID}, &u)
	return u, err
}

// GetUser fetches a user's pass progression.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := c.userCall(ctx, http.MethodGet, userID, "", nil, nil, &u)
	return u, err
}

// Quests lists a user's quest progress ordered by quest id.
func (c *Client) Quests(ctx context.Context, userID string) ([]Quest, error) {
	var body struct {
		Quests []Quest `json:"quests"`
	}
	err := c.userCall(ctx, http.MethodGet, userID, "/quests", nil, nil, &body)
	return body.Quests, err
}

// AddPoints awards delta points and returns the updated user.
func (c *Client) AddPoints(ctx context.Context, userID string, delta int64) (User, error) {
	var u User
	q := url.Values{"delta": {strconv.FormatInt(delta, 10)}}
	err := c.userCall(ctx, http.MethodPost, userID, "/points", q, nil, &u)
	return u, err
}

// ClaimTier claims a reached tier's rewards.
func (c *Client) ClaimTier(ctx context.Context, userID string, tier int) (ClaimResult, error) {
	var res ClaimResult
	err := c.userCall(ctx, http.MethodPost, userID, fmt.Sprintf("/tiers/%d/claim", tier), nil, nil, &res)
	return res, err
}

// TierItem returns the display item for tier. An empty passID uses the user's pass.
func (c *Client) TierItem(ctx context.Context, userID, passID string, tier int) (TierItem, error) {
	var item TierItem
	var q url.Values
	if passID != "" {
		q = url.Values{"pass": {passID}}
	}
	err := c.userCall(ctx, http.MethodGet, userID, fmt.Sprintf("/tiers/%d", tier), q, nil, &item)
	return item, err
}

// AdjustBalance applies op ("add", "remove" or "set") with a decimal amount.
func (c *Client) AdjustBalance(ctx context.Context, userID, op, amount string) (User, error) {
	var u User
	err := c.userCall(ctx, http.MethodPost, userID, "/balance", nil, map[string]string{"op": op, "amount": amount}, &u)
	return u, err
}

// SendEvent delivers a host event and returns the id the server assigned.
func (c *Client) SendEvent(ctx context.Context, ev core.Event) (string, error) {
	if strings.TrimSpace(string(ev.UserID)) == "" {
		return "", ErrEmptyUserID
	}
	var body struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/events", nil, ev, &body)
	return body.ID, err
}

// Placeholder resolves a placeholder such as "tier" for a user.
func (c *Client) Placeholder(ctx context.Context, userID, name string) (string, error) {
	var body struct {
		Value string `json:"value"`
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrEmptyUserID
	}
	err := c.do(ctx, http.MethodGet, "/placeholders/"+url.PathEscape(userID)+"/"+url.PathEscape(name), nil, nil, &body)
	return body.Value, err
}

// Leaderboard returns the top n users of a pass.
func (c *Client) Leaderboard(ctx context.Context, passID string, n int) ([]LeaderboardEntry, error) {
	var body struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	q := url.Values{"n": {strconv.Itoa(n)}}
	err := c.do(ctx, http.MethodGet, "/leaderboard/"+url.PathEscape(passID), q, nil, &body)
	return body.Entries, err
}

func (c *Client) Hooks(ctx context.Context) ([]Hook, error) {
	var body struct {
		Hooks []Hook `json:"hooks"`
	}
	err := c.do(ctx, http.MethodGet, "/hooks", nil, nil, &body)
	return body.Hooks, err
}

func (c *Client) Passes(ctx context.Context) ([]string, error) {
	var body struct {
		Passes []string `json:"passes"`
	}
	err := c.do(ctx, http.MethodGet, "/passes", nil, nil, &body)
	return body.Passes, err
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty userID limits the stream to that user's events.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) userCall(ctx context.Context, method, userID, suffix string, q url.Values, in, out any) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return c.do(ctx, method, "/users/"+url.PathEscape(userID)+suffix, q, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
