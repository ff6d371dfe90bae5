package slack

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

// ReactionEvent is the structure received from slack-forwarder via NATS.
type ReactionEvent struct {
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

// ParseReaction maps a reviewer's reaction on a dispute post to a resolution.
// Reactions outside the legend report false.
func ParseReaction(reaction string) (settlement.Resolution, bool) {
	switch reaction {
	case "white_check_mark", "heavy_check_mark":
		return settlement.ResolutionNoRefund, true
	case "leftwards_arrow_with_hook":
		return settlement.ResolutionFullRefund, true
	case "scales":
		return settlement.ResolutionPartialRefund, true
	default:
		return "", false
	}
}

// ParseAction maps a dispute button's action ID to a resolution and the
// booking it belongs to.
func ParseAction(actionID string) (settlement.Resolution, string, bool) {
	for prefix, res := range map[string]settlement.Resolution{
		ActionNoRefund:      settlement.ResolutionNoRefund,
		ActionFullRefund:    settlement.ResolutionFullRefund,
		ActionPartialRefund: settlement.ResolutionPartialRefund,
	} {
		if strings.HasPrefix(actionID, prefix) {
			return res, strings.TrimPrefix(actionID, prefix), true
		}
	}
	return "", "", false
}

// PartialRefundShare is the fraction of the price refunded by a :scales: reaction.
const PartialRefundShare = 0.5

// ParseReactionEvent parses a NATS message payload from slack-forwarder into a ReactionEvent.
func ParseReactionEvent(data []byte) (*ReactionEvent, error) {
	// The slack-forwarder publishes events with metadata in a wrapper.
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse reaction wrapper: %w", err)
	}

	evt := &ReactionEvent{
		Reaction:  wrapper.Metadata["text"],
		UserID:    wrapper.Metadata["user_id"],
		Channel:   wrapper.Metadata["channel_id"],
		MessageTS: wrapper.Metadata["message_ts"],
	}

	if len(evt.Reaction) > 2 && strings.HasPrefix(evt.Reaction, ":") && strings.HasSuffix(evt.Reaction, ":") {
		evt.Reaction = evt.Reaction[1 : len(evt.Reaction)-1]
	}
	return evt, nil
}
