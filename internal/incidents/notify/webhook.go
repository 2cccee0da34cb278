package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Channel delivers a rendered escalation page.
type Channel interface {
	Send(ctx context.Context, content string) error
}

// pagePayload is what the paging gateway receives for an escalation.
type pagePayload struct {
	Source   string    `json:"source"`
	Priority string    `json:"priority"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// WebhookChannel posts escalation pages to the on-call paging gateway.
// A throttled or failing gateway gets one more attempt after retryDelay.
type WebhookChannel struct {
	url        string
	token      string
	client     *http.Client
	retryDelay time.Duration
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithWebhookToken sends token as a bearer credential.
func WithWebhookToken(token string) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.token = token
	}
}

// WithRetryDelay sets the pause before the second attempt.
func WithRetryDelay(delay time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if delay >= 0 {
			ch.retryDelay = delay
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("escalation webhook: empty url")
	}
	channel := &WebhookChannel{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send pages the on-call staff with content.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil || w.url == "" {
		return errors.New("escalation webhook: empty url")
	}
	body, err := json.Marshal(pagePayload{
		Source:   "incident-cloud",
		Priority: "urgent",
		Text:     content,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	retry, err := w.post(ctx, body)
	if err == nil || !retry {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(w.retryDelay):
	}
	_, err = w.post(ctx, body)
	return err
}

// post reports whether a failure is worth another attempt.
func (w *WebhookChannel) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("escalation webhook: gateway returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("escalation webhook: rejected with %d", resp.StatusCode)
	}
}
