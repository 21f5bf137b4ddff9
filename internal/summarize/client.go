// Package summarize enriches items with short summaries from an
// OpenAI-compatible chat-completions endpoint. It is an optional stage:
// every failure degrades to the item's own description.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"digestbot/internal/feed"
	"digestbot/pkg/logx"
)

const defaultSystemPrompt = "Summarize the article behind the given title and URL " +
	"in one plain sentence for a tech news digest. No markdown, no preamble."

// Config wires the external text service.
type Config struct {
	Enabled      bool
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
	Timeout      time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Enrich fills in Summary for items that lack one. Items are updated in
// place; the slice is returned for chaining. Errors are logged per item and
// never abort the batch.
func (c *Client) Enrich(ctx context.Context, items []feed.Item) []feed.Item {
	if c == nil || !c.cfg.Enabled {
		return items
	}
	for i := range items {
		if items[i].Summary != "" {
			continue
		}
		summary, err := c.summarize(ctx, items[i])
		if err != nil {
			c.log.Warn("summarize failed, keeping description",
				logx.String("url", items[i].URL), logx.Err(err))
			continue
		}
		items[i].Summary = summary
	}
	return items
}

func (c *Client) summarize(ctx context.Context, it feed.Item) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.Endpoint == "" || c.cfg.Model == "" {
		return "", fmt.Errorf("summarize client misconfigured")
	}

	prompt := c.cfg.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultSystemPrompt
	}
	body, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": it.Title + "\n" + it.URL},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("service error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
