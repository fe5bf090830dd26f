package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const discordAPIBase = "https://discord.com/api/v10"

// suppressEmbedsFlag is Discord's SUPPRESS_EMBEDS message flag. Alert
// posts carry chart links and would otherwise unfurl one preview per
// line.
const suppressEmbedsFlag = 1 << 2

// Notifier delivers formatted messages to a channel. Scheduled posting
// goes through SendWithRetry; Send is the single-shot primitive.
type Notifier interface {
	Send(ctx context.Context, channelID, content string, suppressEmbeds bool) error
	SendWithRetry(ctx context.Context, channelID, content string, suppressEmbeds bool, maxRetries int) error
}

// DiscordNotifier sends messages via the Discord REST API.
type DiscordNotifier struct {
	Token   string
	APIBase string
	Client  *http.Client
}

// NewDiscordNotifier creates a notifier with optional proxy support.
func NewDiscordNotifier(token, proxyURL string) *DiscordNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &DiscordNotifier{
		Token:   token,
		APIBase: discordAPIBase,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// Send posts one message to the channel. A 429 waits out the advertised
// retry window once before giving up to the caller's retry loop.
func (d *DiscordNotifier) Send(ctx context.Context, channelID, content string, suppressEmbeds bool) error {
	return d.send(ctx, channelID, content, suppressEmbeds, true)
}

func (d *DiscordNotifier) send(ctx context.Context, channelID, content string, suppressEmbeds, allowRateLimitWait bool) error {
	payload := map[string]any{"content": content}
	if suppressEmbeds {
		payload["flags"] = suppressEmbedsFlag
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	apiURL := fmt.Sprintf("%s/channels/%s/messages", d.APIBase, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+d.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests && allowRateLimitWait {
		wait := retryAfter(resp)
		log.Printf("[WARN] discord rate limited on channel %s, waiting %v", channelID, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		return d.send(ctx, channelID, content, suppressEmbeds, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord API error: status %d, body: %.300s", resp.StatusCode, string(respBody))
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 2 * time.Second
}

// SendWithRetry sends a message with exponential backoff retry.
func (d *DiscordNotifier) SendWithRetry(ctx context.Context, channelID, content string, suppressEmbeds bool, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := d.Send(ctx, channelID, content, suppressEmbeds); err != nil {
			lastErr = err
			backoff := time.Duration(1<<uint(i)) * time.Second
			log.Printf("[WARN] discord send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}

// NoopNotifier drops messages, logging a preview. Used when no token is
// configured and in dry runs.
type NoopNotifier struct{}

func (NoopNotifier) Send(_ context.Context, channelID, content string, _ bool) error {
	preview := content
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	log.Printf("[INFO] noop notifier: would send to %s: %s", channelID, preview)
	return nil
}

func (n NoopNotifier) SendWithRetry(ctx context.Context, channelID, content string, suppressEmbeds bool, _ int) error {
	return n.Send(ctx, channelID, content, suppressEmbeds)
}
