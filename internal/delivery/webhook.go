package delivery

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
)

// Discord message ceiling, in characters. Chunks are packed in bytes, which
// can only undershoot this.
const webhookChunkLimit = 2000

var webhookHosts = map[string]bool{
	"discord.com":    true,
	"discordapp.com": true,
}

const webhookPathPrefix = "/api/webhooks/"

// Webhook posts chunks to a Discord-style webhook as {"content": ...} JSON.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(rawURL string) *Webhook {
	return &Webhook{
		url:    strings.TrimSpace(rawURL),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Limit() int { return webhookChunkLimit }

// Validate refuses to send anywhere that does not look like a webhook
// endpoint: https, a known host, and the webhook path prefix.
func (w *Webhook) Validate() error {
	if w.url == "" {
		return fmt.Errorf("webhook: url is not configured")
	}
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("webhook: invalid url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("webhook: url must use https, got %q", u.Scheme)
	}
	if !webhookHosts[strings.ToLower(u.Host)] {
		return fmt.Errorf("webhook: unexpected host %q", u.Host)
	}
	if !strings.HasPrefix(u.Path, webhookPathPrefix) {
		return fmt.Errorf("webhook: unexpected path %q", u.Path)
	}
	return nil
}

func (w *Webhook) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}
