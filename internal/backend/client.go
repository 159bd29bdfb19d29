// Package backend forwards persistence calls to the external API that owns
// games, rooms and profiles. Bodies are passed through as raw JSON.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/obslog"
)

// ErrUnreachable wraps transport failures talking to the backend.
var ErrUnreachable = errors.New("backend unreachable")

// HTTPError is a non-2xx answer from the backend. Body is kept verbatim so
// callers can relay it.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend api error: status=%d body=%s", e.Status, truncate(string(e.Body), 512))
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

// WithRetry sets how many attempts idempotent (GET) calls get.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateGame(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error) {
	return c.Post(ctx, "/api/games/create", auth, body)
}

func (c *Client) RecordMove(ctx context.Context, auth string, body any) (json.RawMessage, error) {
	return c.Post(ctx, "/api/games/move", auth, body)
}

func (c *Client) RecordChessMove(ctx context.Context, auth string, body any) (json.RawMessage, error) {
	return c.Post(ctx, "/api/games/chess/move", auth, body)
}

func (c *Client) FetchState(ctx context.Context, auth, gameID string) (json.RawMessage, error) {
	return c.Get(ctx, "/api/games/state", auth, url.Values{"game_id": {gameID}})
}

func (c *Client) Matchmake(ctx context.Context, auth string, body any) (json.RawMessage, error) {
	return c.Post(ctx, "/api/games/chess/matchmake", auth, body)
}

func (c *Client) GenerateGameChallenge(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error) {
	return c.Post(ctx, "/api/games/challenge_generate", auth, body)
}

func (c *Client) GenerateChallenge(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error) {
	return c.Post(ctx, "/api/challenges", auth, body)
}

func (c *Client) ListRooms(ctx context.Context, auth string) (json.RawMessage, error) {
	return c.Get(ctx, "/api/rooms", auth, nil)
}

func (c *Client) CreateRoom(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error) {
	return c.Post(ctx, "/api/rooms/create", auth, body)
}

func (c *Client) JoinRoom(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error) {
	return c.Post(ctx, "/api/rooms/join", auth, body)
}

func (c *Client) PostRoomMessage(ctx context.Context, auth string, body any) (json.RawMessage, error) {
	return c.Post(ctx, "/api/rooms/message", auth, body)
}

func (c *Client) FetchRoomMessages(ctx context.Context, auth, roomID string) (json.RawMessage, error) {
	return c.Get(ctx, "/api/rooms/messages", auth, url.Values{"room_id": {roomID}})
}

func (c *Client) SetPresence(ctx context.Context, auth, userID string, online bool) (json.RawMessage, error) {
	path := "/api/presence/offline"
	if online {
		path = "/api/presence/online"
	}
	return c.Post(ctx, path, auth, map[string]string{"user_id": userID})
}

func (c *Client) ListProfiles(ctx context.Context, auth string) (json.RawMessage, error) {
	return c.Get(ctx, "/api/ai-profiles", auth, nil)
}

func (c *Client) CreateProfiles(ctx context.Context, auth string, body any) (json.RawMessage, error) {
	return c.Post(ctx, "/api/ai-profiles", auth, body)
}

// Get is retried on 5xx and transport errors.
func (c *Client) Get(ctx context.Context, path, auth string, query url.Values) (json.RawMessage, error) {
	return c.do(ctx, fasthttp.MethodGet, path, auth, query, nil, true)
}

func (c *Client) Post(ctx context.Context, path, auth string, body any) (json.RawMessage, error) {
	return c.do(ctx, fasthttp.MethodPost, path, auth, nil, body, false)
}

func (c *Client) do(ctx context.Context, method, path, auth string, query url.Values, in any, retry bool) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(target)
	req.Header.SetContentType("application/json")
	if strings.TrimSpace(auth) != "" {
		req.Header.Set("Authorization", auth)
	}

	if in != nil {
		payload, err := encodeBody(in)
		if err != nil {
			return nil, err
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if status == fasthttp.StatusNoContent || len(resp.Body()) == 0 {
					return nil, nil
				}
				return json.RawMessage(append([]byte(nil), resp.Body()...)), nil
			}
			lastErr = &HTTPError{Status: status, Body: append([]byte(nil), resp.Body()...)}
			if !shouldRetryStatus(status) {
				return nil, lastErr
			}
		}

		if attempt == attempts {
			break
		}
		obslog.L().Debug("backend_retry",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return nil, lastErr
		}
		resp.Reset()
	}
	return nil, lastErr
}

func encodeBody(in any) ([]byte, error) {
	switch v := in.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		return payload, nil
	}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
