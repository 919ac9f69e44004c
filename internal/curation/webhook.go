package curation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// WebhookHandoff POSTs each item as JSON to a review endpoint.
type WebhookHandoff struct {
	url    string
	client *http.Client
}

// NewWebhookHandoff creates a WebhookHandoff. A nil client gets a 10s
// timeout.
func NewWebhookHandoff(url string, client *http.Client) *WebhookHandoff {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookHandoff{url: url, client: client}
}

// Name implements Handoff.
func (w *WebhookHandoff) Name() string { return "webhook" }

// webhookPayload is the body sent for one item.
type webhookPayload struct {
	Item
	Status string `json:"status"`
}

// Enqueue posts item. Any non-2xx answer rejects it.
func (w *WebhookHandoff) Enqueue(ctx context.Context, item Item) error {
	if err := item.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(webhookPayload{Item: item, Status: StatusPending})
	if err != nil {
		return eris.Wrap(err, "curation: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "curation: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "curation: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejected(w.Name(), resp.StatusCode)
	}
	return nil
}
