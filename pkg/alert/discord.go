package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	var fields []map[string]any
	if len(n.NewEntries) > 0 {
		fields = append(fields, map[string]any{"name": "New on the chart", "value": entryLines(n.NewEntries, false)})
	}
	if len(n.Risers) > 0 {
		fields = append(fields, map[string]any{"name": "Biggest risers", "value": entryLines(n.Risers, true)})
	}
	if len(n.FailedViews) > 0 {
		fields = append(fields, map[string]any{"name": "Failed views", "value": strings.Join(n.FailedViews, "\n")})
	}

	embed := map[string]any{
		"title":       n.Title,
		"description": n.Body,
		"fields":      fields,
		"color":       0xFF0000,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	payload := map[string]any{
		"embeds": []map[string]any{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}

	return nil
}

func entryLines(entries []Entry, withValue bool) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("• [%s](%s)", e.Title, e.URL)
		if withValue {
			line += fmt.Sprintf(" +%d", e.Value)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
