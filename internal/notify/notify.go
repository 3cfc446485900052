// Package notify posts safety escalation alerts to an operator webhook.
// Delivery is best-effort: a failed post is logged by the caller and
// never blocks group tracking.
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

// Alert is the payload posted when a group's aggregate safety category
// escalates into blocked territory.
type Alert struct {
	GroupID     int       `json:"group_id"`
	OldCategory string    `json:"old_category"`
	NewCategory string    `json:"new_category"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Send posts an alert to the webhook endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint string, alert Alert) error {
	if endpoint == "" {
		return errors.New("notify: no webhook endpoint configured")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("safety alert failed: status=%d", resp.StatusCode)
	}
	return nil
}
