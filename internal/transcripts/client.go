// Package transcripts fetches session transcripts and their engagement
// metrics from the transcript service.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
)

var (
	ErrNotConfigured = errors.New("transcript service url not configured")
	ErrNotFound      = errors.New("transcript not found")
)

type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// Fetch returns the session metrics recorded for a booking.
func (c *Client) Fetch(ctx context.Context, bookingID uuid.UUID) (*evaluator.SessionMetrics, error) {
	if c.http == nil {
		return nil, ErrNotConfigured
	}

	var m evaluator.SessionMetrics
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", bookingID.String()).
		SetResult(&m).
		Get("/api/v1/sessions/{id}/metrics")
	if err != nil {
		return nil, fmt.Errorf("transcript request failed: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("session %s: %w", bookingID, ErrNotFound)
	case resp.IsError():
		return nil, fmt.Errorf("transcript service returned %d for session %s", resp.StatusCode(), bookingID)
	}

	if m.Transcript == "" {
		return nil, fmt.Errorf("session %s: empty transcript: %w", bookingID, ErrNotFound)
	}
	return &m, nil
}
