// Package textgen forwards prompts to an OpenAI-compatible chat completion API.
package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/obslog"
)

const (
	DefaultURL   = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel = "llama3-70b-8192"

	notConfiguredFallback = "AI service not configured."
)

type Config struct {
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *fasthttp.Client
	msgs *msgcat.Catalog
}

func NewClient(cfg Config, msgs *msgcat.Catalog) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &fasthttp.Client{ReadTimeout: cfg.Timeout, WriteTimeout: cfg.Timeout, MaxConnsPerHost: 16},
		msgs: msgs,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return strings.TrimSpace(c.cfg.APIKey) != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateText sends prompt as a single user message and returns the first
// choice. Without an API key it returns a fixed notice instead of failing.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return c.msgs.Text("textgen.not_configured", nil, notConfiguredFallback), nil
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.cfg.URL)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.SetBody(payload)

	deadline := time.Now().Add(c.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return "", fmt.Errorf("textgen request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return "", fmt.Errorf("textgen api error: status=%d", status)
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("textgen returned no choices")
	}
	obslog.L().Debug("textgen_done", zap.String("model", c.cfg.Model), zap.Duration("elapsed", time.Since(start)))
	return out.Choices[0].Message.Content, nil
}

func (c *Client) render(key string, data map[string]string) (string, error) {
	if c.msgs == nil {
		return "", fmt.Errorf("no prompt catalog for %s", key)
	}
	return c.msgs.Render(key, data)
}

func (c *Client) prompt(ctx context.Context, key string, data map[string]string) (string, error) {
	p, err := c.render(key, data)
	if err != nil {
		return "", err
	}
	return c.GenerateText(ctx, p)
}

func (c *Client) CoachMessage(ctx context.Context, situation, intent string) (string, error) {
	return c.prompt(ctx, "prompt.coach", map[string]string{"Context": situation, "Intent": intent})
}

func (c *Client) SuggestReply(ctx context.Context, lastMessage, tone string) (string, error) {
	if strings.TrimSpace(tone) == "" {
		tone = "friendly"
	}
	return c.prompt(ctx, "prompt.suggest_reply", map[string]string{"Tone": tone, "Message": lastMessage})
}

func (c *Client) AnalyzeTone(ctx context.Context, message string) (string, error) {
	return c.prompt(ctx, "prompt.analyze_tone", map[string]string{"Message": message})
}

func (c *Client) Translate(ctx context.Context, message, language string) (string, error) {
	return c.prompt(ctx, "prompt.translate", map[string]string{"Message": message, "Language": language})
}

func (c *Client) ProfileText(ctx context.Context, relationshipType string) (string, error) {
	if strings.TrimSpace(relationshipType) == "" {
		relationshipType = "serious"
	}
	return c.prompt(ctx, "prompt.profile", map[string]string{"RelationshipType": relationshipType})
}
