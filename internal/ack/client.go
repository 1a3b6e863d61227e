// Package ack talks to the downstream system of record that tracks event
// delivery. Failures here never roll back or re-run business mutations;
// they only affect the ledger's acknowledgement fields.
package ack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Client struct {
	baseURL      string
	originModule string
	timeout      time.Duration
	httpClient   *http.Client
}

func NewClient(baseURL, originModule string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		originModule: originModule,
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// PostEvent publishes an event envelope to the downstream system.
func (c *Client) PostEvent(ctx context.Context, eventType string, payload json.RawMessage, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	body := map[string]any{
		"eventId":      uuid.New().String(),
		"eventType":    eventType,
		"type":         eventType,
		"timestamp":    fmt.Sprintf("%d.%09d", ts.Unix(), ts.Nanosecond()),
		"originModule": c.originModule,
		"payload":      payload,
	}
	return c.post(ctx, c.baseURL+"/events", body)
}

// AckEvent confirms that the event was processed.
func (c *Client) AckEvent(ctx context.Context, eventID string) error {
	return c.post(ctx, fmt.Sprintf("%s/events/%s/ack", c.baseURL, eventID), nil)
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal ack body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("build ack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
