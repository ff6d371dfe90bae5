package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

const reactionLegend = "React: :white_check_mark: release to mentor | :leftwards_arrow_with_hook: full refund | :scales: split 50/50"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// Dispute is a held booking awaiting manual review.
type Dispute struct {
	BookingID    uuid.UUID
	ServiceTitle string
	Price        float64
	QualityScore float64
	Evaluation   *evaluator.SessionEvaluation
}

// PostDispute posts the evaluation report for a held booking. The returned
// message timestamp identifies the dispute when reactions arrive.
func (p *Poster) PostDispute(ctx context.Context, d Dispute) (string, error) {
	text := formatDisputeMessage(d)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "actions",
				"elements": []map[string]any{
					button("Release to mentor", ActionNoRefund, d.BookingID, "primary"),
					button("Full refund", ActionFullRefund, d.BookingID, "danger"),
					button("Split 50/50", ActionPartialRefund, d.BookingID, ""),
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": reactionLegend,
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("posted dispute to slack", "ts", ts, "booking_id", d.BookingID)
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

// Action ID prefixes of the dispute buttons. The booking ID follows the colon.
const (
	ActionNoRefund      = "dispute_no_refund:"
	ActionFullRefund    = "dispute_full_refund:"
	ActionPartialRefund = "dispute_partial_refund:"
)

func button(label, action string, bookingID uuid.UUID, style string) map[string]any {
	b := map[string]any{
		"type":      "button",
		"text":      map[string]any{"type": "plain_text", "text": label},
		"action_id": action + bookingID.String(),
		"value":     bookingID.String(),
	}
	if style != "" {
		b["style"] = style
	}
	return b
}

func formatDisputeMessage(d Dispute) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Settlement held for review*\n")
	fmt.Fprintf(&sb, "*Booking:* %s\n", d.BookingID)
	if d.ServiceTitle != "" {
		fmt.Fprintf(&sb, "*Service:* %s\n", d.ServiceTitle)
	}
	fmt.Fprintf(&sb, "*Price:* %s USDC | *Quality score:* %.1f/10\n\n", formatAmount(d.Price), d.QualityScore)

	if d.Evaluation != nil {
		sb.WriteString(evaluator.FormatReport(d.Evaluation))
	} else {
		sb.WriteString("_No evaluation available._")
	}
	return sb.String()
}

func formatAmount(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
