// Package evolution is a thin client for the Evolution WhatsApp API.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("evolution: EVOLUTION_API_BASE_URL is not set")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evolution api error: status %d body=%s", e.Status, e.Body)
}

type Config struct {
	BaseURL    string
	APIKey     string
	WebhookURL string
	Timeout    time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "evolution"),
	}, nil
}

type Media struct {
	Media    string `json:"media"` // URL or base64
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// SendText отправляет текст в чат WhatsApp.
func (c *Client) SendText(ctx context.Context, number, text string, options map[string]any) (json.RawMessage, error) {
	body := map[string]any{
		"number": number,
		"text":   text,
	}
	if len(options) > 0 {
		body["options"] = options
	}
	return c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(number), body)
}

func (c *Client) SendMedia(ctx context.Context, number string, m Media, options map[string]any) (json.RawMessage, error) {
	body := map[string]any{
		"number":   number,
		"media":    m.Media,
		"fileName": m.FileName,
		"caption":  m.Caption,
	}
	if len(options) > 0 {
		body["options"] = options
	}
	return c.do(ctx, http.MethodPost, "/message/sendMedia/"+url.PathEscape(number), body)
}

func (c *Client) InstanceInfo(ctx context.Context, instance string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/instance/info/"+url.PathEscape(instance), nil)
}

// SetWebhook points the instance's webhook at this bridge.
func (c *Client) SetWebhook(ctx context.Context, instance string) (json.RawMessage, error) {
	if c.webhookURL == "" {
		return nil, errors.New("evolution: WEBHOOK_URL is not set")
	}
	return c.do(ctx, http.MethodPost, "/instance/setWebhook/"+url.PathEscape(instance), map[string]any{
		"webhook":           c.webhookURL,
		"enabled":           true,
		"webhook_by_events": false,
	})
}

const maxErrorBody = 4096

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evolution %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("api error", "method", method, "path", path, "status", resp.StatusCode)
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		// Some endpoints answer plain text; keep it opaque but valid JSON.
		quoted, _ := json.Marshal(string(raw))
		return quoted, nil
	}
	return raw, nil
}
