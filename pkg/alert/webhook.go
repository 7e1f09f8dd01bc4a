package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	// SignatureHeader carries "sha256=" plus the hex HMAC-SHA256 of the body.
	SignatureHeader = "X-Signature-256"
	// DeliveryHeader repeats the envelope's delivery id so receivers can dedupe.
	DeliveryHeader = "X-Tubepulse-Delivery"

	digestEvent = "chart.digest"
)

// Envelope is the JSON document posted to generic webhooks.
type Envelope struct {
	Event      string        `json:"event"`
	DeliveryID string        `json:"delivery_id"`
	SentAt     time.Time     `json:"sent_at"`
	Digest     *Notification `json:"digest"`
}

// Webhook posts the digest to an arbitrary HTTP endpoint, signed when a
// secret is configured.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	now    func() time.Time
}

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		now:    time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	env := Envelope{
		Event:      digestEvent,
		DeliveryID: uuid.NewString(),
		SentAt:     w.now().UTC(),
		Digest:     n,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal webhook envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tubepulse/1.0")
	req.Header.Set(DeliveryHeader, env.DeliveryID)
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook %s: %w", env.DeliveryID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook %s: status %d: %s", env.DeliveryID, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
