package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
	"github.com/MikeSquared-Agency/arbiter/internal/slack"
)

// InteractionEvent matches the slack-gateway interaction event format.
type InteractionEvent struct {
	ActionID  string `json:"action_id"`
	Value     string `json:"value"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts"`
	TriggerID string `json:"trigger_id"`
}

// HandleReaction resolves a dispute from a reviewer's reaction on its Slack post.
func (p *Processor) HandleReaction(subject string, data []byte) {
	ctx := context.Background()

	evt, err := slack.ParseReactionEvent(data)
	if err != nil {
		p.logger.Error("failed to parse reaction", "error", err)
		return
	}

	res, ok := slack.ParseReaction(evt.Reaction)
	if !ok {
		return
	}

	p.mu.Lock()
	bookingID, tracked := p.disputes[evt.MessageTS]
	p.mu.Unlock()
	if !tracked {
		return
	}

	p.logger.Info("processing dispute reaction",
		"reaction", evt.Reaction,
		"resolution", res,
		"booking_id", bookingID,
	)
	p.resolveFromSlack(ctx, bookingID, res, evt.UserID, evt.MessageTS)
}

// HandleInteraction resolves a dispute from one of its Slack buttons.
func (p *Processor) HandleInteraction(subject string, data []byte) {
	var evt InteractionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Warn("failed to parse interaction event", "error", err)
		return
	}

	res, rawID, ok := slack.ParseAction(evt.ActionID)
	if !ok {
		return // not a dispute action
	}

	bookingID, err := uuid.Parse(rawID)
	if err != nil {
		p.logger.Warn("dispute action with invalid booking id", "action_id", evt.ActionID)
		return
	}

	by := evt.UserName
	if by == "" {
		by = evt.UserID
	}
	p.resolveFromSlack(context.Background(), bookingID, res, by, evt.MessageTS)
}

func (p *Processor) resolveFromSlack(ctx context.Context, bookingID uuid.UUID, res settlement.Resolution, by, messageTS string) {
	var amount float64
	if res == settlement.ResolutionPartialRefund {
		b, err := p.deps.Store.GetBooking(ctx, bookingID)
		if err != nil {
			p.logger.Error("failed to load disputed booking", "booking_id", bookingID, "error", err)
			return
		}
		amount = b.Price * slack.PartialRefundShare
	}

	out, err := p.ResolveDispute(ctx, bookingID, res, amount, "resolved from slack", by)
	if err != nil {
		p.logger.Error("failed to resolve dispute", "booking_id", bookingID, "resolution", res, "error", err)
		return
	}

	p.mu.Lock()
	for ts, id := range p.disputes {
		if id == bookingID {
			delete(p.disputes, ts)
		}
	}
	p.mu.Unlock()

	if p.deps.Disputes != nil && messageTS != "" {
		text := fmt.Sprintf("Resolved as %s by %s. Mentor %.2f, mentee refund %.2f.",
			res, by, out.Payouts.Mentor, out.Payouts.Mentee)
		if err := p.deps.Disputes.PostThread(ctx, messageTS, text); err != nil {
			p.logger.Error("failed to post resolution thread", "error", err)
		}
	}
}

// PendingDisputes reports how many Slack dispute posts await a decision.
func (p *Processor) PendingDisputes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.disputes)
}
