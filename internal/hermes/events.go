package hermes

import (
	"time"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/rating"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

const (
	SubjectSessionCompleted = "marketplace.session.completed"
	SubjectSlackReaction    = "swarm.slack.reaction"
	SubjectSlackInteraction = "swarm.slack.interaction"

	SubjectSettlementReleased = "marketplace.settlement.released"
	SubjectSettlementDisputed = "marketplace.settlement.disputed"
	SubjectSettlementResolved = "marketplace.settlement.resolved"
	SubjectEvaluationFailed   = "marketplace.evaluation.failed"

	SubjectAgentRegistered = "swarm.agent.arbiter.registered"
)

// SessionCompletedEvent announces that a booked session has ended. Metrics
// is optional; without it the transcript service is asked for them.
type SessionCompletedEvent struct {
	BookingID   string                    `json:"booking_id"`
	Notes       string                    `json:"notes,omitempty"`
	Metrics     *evaluator.SessionMetrics `json:"metrics,omitempty"`
	CompletedAt time.Time                 `json:"completed_at"`
}

// SettlementEvent is published when a booking is released, held or resolved.
type SettlementEvent struct {
	BookingID     string              `json:"booking_id"`
	ServiceID     string              `json:"service_id"`
	EvaluationID  string              `json:"evaluation_id,omitempty"`
	Status        settlement.Status   `json:"status"`
	Decision      settlement.Decision `json:"decision,omitempty"`
	QualityScore  float64             `json:"quality_score,omitempty"`
	QualityRating float64             `json:"quality_rating,omitempty"`
	Distribution  *rating.Split       `json:"distribution,omitempty"`
	Payouts       settlement.Payouts  `json:"payouts"`
	Resolution    string              `json:"resolution,omitempty"`
	ResolvedBy    string              `json:"resolved_by,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// EvaluationFailedEvent reports an evaluation that produced no usable
// verdict. The booking is left as it was.
type EvaluationFailedEvent struct {
	BookingID string    `json:"booking_id"`
	ErrorKind string    `json:"error_kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
