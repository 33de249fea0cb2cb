// Package doomsdaynotify delivers a generic JSON summary of expired
// and soon-to-expire certificates to a configured webhook. Formatting
// for any particular chat platform is left to the receiving endpoint.
package doomsdaynotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

const expiringSoonWindow = 30 * 24 * time.Hour

// Config describes where summaries are delivered.
type Config struct {
	WebhookURL  string
	DoomsdayURL string
}

// Notifier posts a JSON summary to a webhook endpoint whenever Check
// finds expired or soon-to-expire certificates.
type Notifier struct {
	webhookURL  string
	doomsdayURL string
	client      *http.Client
}

// New builds a Notifier from Config.
func New(cfg Config) (*Notifier, error) {
	if cfg.WebhookURL == "" {
		return nil, doomsdayerr.New(doomsdayerr.Config, "notification webhook_url is required")
	}

	return &Notifier{
		webhookURL:  cfg.WebhookURL,
		doomsdayURL: cfg.DoomsdayURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// summary is the JSON body posted to the webhook.
type summary struct {
	Title        string                   `json:"title"`
	Body         string                   `json:"body"`
	Urgency      string                   `json:"urgency"`
	Certificates []doomsdaytypes.CacheItem `json:"certificates"`
}

// Check partitions items into expired and expiring-soon buckets
// relative to now and posts one summary per nonempty bucket.
func (n *Notifier) Check(ctx context.Context, items []doomsdaytypes.CacheItem, now time.Time) error {
	var expired, expiringSoon []doomsdaytypes.CacheItem

	for _, item := range items {
		remaining := item.NotAfter.Sub(now)
		switch {
		case remaining < 0:
			expired = append(expired, item)
		case remaining <= expiringSoonWindow:
			expiringSoon = append(expiringSoon, item)
		}
	}

	if len(expired) > 0 {
		if err := n.post(ctx, summary{
			Title:        "Expired Certificates",
			Body:         fmt.Sprintf("%d certificate(s) have expired. See %s for details.", len(expired), n.doomsdayURL),
			Urgency:      "critical",
			Certificates: expired,
		}); err != nil {
			return err
		}
	}

	if len(expiringSoon) > 0 {
		if err := n.post(ctx, summary{
			Title:        "Certificates Expiring Soon",
			Body:         fmt.Sprintf("%d certificate(s) will expire within 30 days. See %s for details.", len(expiringSoon), n.doomsdayURL),
			Urgency:      "high",
			Certificates: expiringSoon,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (n *Notifier) post(ctx context.Context, s summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return doomsdayerr.Wrap(doomsdayerr.Serialization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return doomsdayerr.Wrap(doomsdayerr.Transport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return doomsdayerr.Wrap(doomsdayerr.Transport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return doomsdayerr.New(doomsdayerr.Transport, fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}
