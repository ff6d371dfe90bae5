package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/hermes"
	"github.com/MikeSquared-Agency/arbiter/internal/ledger"
	"github.com/MikeSquared-Agency/arbiter/internal/metrics"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
	"github.com/MikeSquared-Agency/arbiter/internal/slack"
	"github.com/MikeSquared-Agency/arbiter/internal/store"
)

var (
	// ErrAlreadySettled means the booking has left the completed state.
	ErrAlreadySettled     = errors.New("booking already settled")
	ErrNotDisputed        = errors.New("booking is not disputed")
	ErrInvalidMetrics     = errors.New("invalid session metrics")
	ErrNoTranscriptSource = errors.New("no metrics supplied and no transcript service configured")
)

type Store interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*store.Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to settlement.Status) error
	RecordCompletion(ctx context.Context, rec store.CompletionRecord) (uuid.UUID, error)
	SetCompletionRating(ctx context.Context, bookingID uuid.UUID, rating float64) error
	RecordEvaluation(ctx context.Context, rec store.EvaluationRecord) (uuid.UUID, error)
	RecordPayments(ctx context.Context, bookingID uuid.UUID, from, to settlement.Status, payments []store.Payment) error
	RecordResolution(ctx context.Context, res store.ResolutionRecord, payments []store.Payment) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, m evaluator.SessionMetrics) (*evaluator.SessionEvaluation, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Locker interface {
	Acquire(ctx context.Context, bookingID uuid.UUID) (func(), error)
}

type Archiver interface {
	Add(ctx context.Context, key string, record any, metadata map[string]string) error
}

type TranscriptSource interface {
	Fetch(ctx context.Context, bookingID uuid.UUID) (*evaluator.SessionMetrics, error)
}

type DisputePoster interface {
	PostDispute(ctx context.Context, d slack.Dispute) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// Deps are the processor's collaborators. Store and Evaluator are required;
// the rest may be nil and their step is skipped.
type Deps struct {
	Store       Store
	Evaluator   Evaluator
	Publisher   Publisher
	Locker      Locker
	Archiver    Archiver
	Transcripts TranscriptSource
	Disputes    DisputePoster
	Metrics     *metrics.Recorder
	Model       string
}

// Processor settles completed bookings: evaluate, gate, then release or hold.
type Processor struct {
	deps     Deps
	policy   settlement.Policy
	validate *validator.Validate
	logger   *slog.Logger

	mu       sync.Mutex
	disputes map[string]uuid.UUID // slack message ts -> booking
}

func New(deps Deps, policy settlement.Policy, logger *slog.Logger) *Processor {
	return &Processor{
		deps:     deps,
		policy:   policy,
		validate: validator.New(),
		logger:   logger,
		disputes: make(map[string]uuid.UUID),
	}
}

// Outcome is the result of settling or resolving one booking.
type Outcome struct {
	BookingID    uuid.UUID                    `json:"bookingId"`
	EvaluationID uuid.UUID                    `json:"evaluationId,omitempty"`
	Status       settlement.Status            `json:"status"`
	Decision     settlement.Decision          `json:"decision,omitempty"`
	Resolution   settlement.Resolution        `json:"resolution,omitempty"`
	QualityScore float64                      `json:"qualityScore,omitempty"`
	Evaluation   *evaluator.SessionEvaluation `json:"evaluation,omitempty"`
	Payouts      settlement.Payouts           `json:"payouts"`
	Report       string                       `json:"report,omitempty"`
}

// HandleSessionCompleted is the NATS handler for marketplace.session.completed.
func (p *Processor) HandleSessionCompleted(subject string, data []byte) {
	ctx := context.Background()

	var evt hermes.SessionCompletedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse session completed event", "error", err)
		return
	}

	bookingID, err := uuid.Parse(evt.BookingID)
	if err != nil {
		p.logger.Error("invalid booking id", "booking_id", evt.BookingID, "error", err)
		return
	}

	out, err := p.Settle(ctx, bookingID, evt.Metrics, evt.Notes)
	if err != nil {
		p.logger.Error("settlement failed", "booking_id", bookingID, "error", err)
		return
	}
	p.logger.Info("booking settled",
		"booking_id", bookingID,
		"decision", out.Decision,
		"status", out.Status,
	)
}

// Settle evaluates a completed session and releases or holds the booking's
// funds. When m is nil the metrics are fetched from the transcript service.
// A failed evaluation leaves the booking completed.
func (p *Processor) Settle(ctx context.Context, bookingID uuid.UUID, m *evaluator.SessionMetrics, notes string) (*Outcome, error) {
	unlock, err := p.lock(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := p.deps.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if err := p.complete(ctx, booking, notes); err != nil {
		return nil, err
	}

	if m == nil {
		if p.deps.Transcripts == nil {
			return nil, fmt.Errorf("no metrics for booking %s: %w", bookingID, ErrNoTranscriptSource)
		}
		if m, err = p.deps.Transcripts.Fetch(ctx, bookingID); err != nil {
			return nil, fmt.Errorf("fetch transcript: %w", err)
		}
	}
	if err := p.validate.Struct(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetrics, err)
	}

	start := time.Now()
	ev, err := p.deps.Evaluator.Evaluate(ctx, *m)
	p.deps.Metrics.ObserveEvaluation(evaluator.Kind(err), time.Since(start))
	if err != nil {
		p.publish(hermes.SubjectEvaluationFailed, hermes.EvaluationFailedEvent{
			BookingID: bookingID.String(),
			ErrorKind: evaluator.Kind(err),
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return nil, fmt.Errorf("evaluate booking %s: %w", bookingID, err)
	}

	decision := settlement.Decide(p.policy, m.QualityScoreHint)

	evalID, err := p.deps.Store.RecordEvaluation(ctx, store.EvaluationRecord{
		BookingID:    bookingID,
		QualityScore: m.QualityScoreHint,
		Evaluation:   *ev,
		Decision:     decision,
		Model:        p.deps.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("persist evaluation: %w", err)
	}
	if err := p.deps.Store.SetCompletionRating(ctx, bookingID, ev.QualityRating); err != nil {
		p.logger.Warn("failed to store completion rating", "booking_id", bookingID, "error", err)
	}

	out := &Outcome{
		BookingID:    bookingID,
		EvaluationID: evalID,
		Decision:     decision,
		QualityScore: m.QualityScoreHint,
		Evaluation:   ev,
		Payouts:      settlement.Compute(booking.Price, ev.PaymentDistribution),
		Report:       evaluator.FormatReport(ev),
	}

	p.archive(ctx, ledger.EvaluationKey(bookingID, evalID), ev, map[string]string{
		"booking":  bookingID.String(),
		"decision": string(decision),
	})

	switch decision {
	case settlement.DecisionRelease:
		err = p.release(ctx, booking, out)
	default:
		err = p.hold(ctx, booking, out)
	}
	if err != nil {
		return nil, err
	}

	p.deps.Metrics.Settlement(string(decision))
	return out, nil
}

// complete records the completion and moves a confirmed booking to completed.
// Completed bookings pass through so a failed evaluation can be retried.
func (p *Processor) complete(ctx context.Context, b *store.Booking, notes string) error {
	if b.Status.Terminal() || b.Status == settlement.StatusDisputed {
		return fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, ErrAlreadySettled)
	}

	completionID, err := p.deps.Store.RecordCompletion(ctx, store.CompletionRecord{
		BookingID: b.ID,
		ServiceID: b.ServiceID,
		Notes:     notes,
	})
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	if b.Status == settlement.StatusConfirmed {
		if err := p.deps.Store.UpdateBookingStatus(ctx, b.ID, settlement.StatusConfirmed, settlement.StatusCompleted); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		b.Status = settlement.StatusCompleted
		p.archive(ctx, ledger.CompletionKey(b.ID), map[string]any{
			"completionId": completionID,
			"bookingId":    b.ID,
			"serviceId":    b.ServiceID,
			"notes":        notes,
			"completedAt":  time.Now().UTC(),
		}, map[string]string{"booking": b.ID.String()})
	}
	return nil
}

func (p *Processor) release(ctx context.Context, b *store.Booking, out *Outcome) error {
	payments := store.PaymentsFor(b, out.Payouts)
	if err := p.deps.Store.RecordPayments(ctx, b.ID, settlement.StatusCompleted, settlement.StatusPaid, payments); err != nil {
		return fmt.Errorf("release funds: %w", err)
	}
	out.Status = settlement.StatusPaid

	for _, pay := range payments {
		p.archive(ctx, ledger.PaymentKey(b.ID, pay.ID), pay, map[string]string{
			"booking": b.ID.String(),
			"role":    string(pay.Role),
		})
	}

	dist := out.Evaluation.PaymentDistribution
	p.publish(hermes.SubjectSettlementReleased, hermes.SettlementEvent{
		BookingID:     b.ID.String(),
		ServiceID:     b.ServiceID.String(),
		EvaluationID:  out.EvaluationID.String(),
		Status:        out.Status,
		Decision:      out.Decision,
		QualityScore:  out.QualityScore,
		QualityRating: out.Evaluation.QualityRating,
		Distribution:  &dist,
		Payouts:       out.Payouts,
		Timestamp:     time.Now().UTC(),
	})

	p.logger.Info("funds released",
		"booking_id", b.ID,
		"quality_score", out.QualityScore,
		"mentor_amount", out.Payouts.Mentor,
	)
	return nil
}

func (p *Processor) hold(ctx context.Context, b *store.Booking, out *Outcome) error {
	if err := p.deps.Store.UpdateBookingStatus(ctx, b.ID, settlement.StatusCompleted, settlement.StatusDisputed); err != nil {
		return fmt.Errorf("hold funds: %w", err)
	}
	out.Status = settlement.StatusDisputed

	if p.deps.Disputes != nil {
		ts, err := p.deps.Disputes.PostDispute(ctx, slack.Dispute{
			BookingID:    b.ID,
			ServiceTitle: b.ServiceTitle,
			Price:        b.Price,
			QualityScore: out.QualityScore,
			Evaluation:   out.Evaluation,
		})
		if err != nil {
			p.logger.Error("slack post failed", "booking_id", b.ID, "error", err)
		} else {
			p.mu.Lock()
			p.disputes[ts] = b.ID
			p.mu.Unlock()
		}
	}

	dist := out.Evaluation.PaymentDistribution
	p.publish(hermes.SubjectSettlementDisputed, hermes.SettlementEvent{
		BookingID:     b.ID.String(),
		ServiceID:     b.ServiceID.String(),
		EvaluationID:  out.EvaluationID.String(),
		Status:        out.Status,
		Decision:      out.Decision,
		QualityScore:  out.QualityScore,
		QualityRating: out.Evaluation.QualityRating,
		Distribution:  &dist,
		Payouts:       out.Payouts,
		Timestamp:     time.Now().UTC(),
	})

	p.logger.Info("funds held for dispute review",
		"booking_id", b.ID,
		"quality_score", out.QualityScore,
		"threshold", p.policy.ReleaseThreshold,
	)
	return nil
}

// ResolveDispute settles a disputed booking by hand. amount is the refund
// for a partial refund.
func (p *Processor) ResolveDispute(ctx context.Context, bookingID uuid.UUID, res settlement.Resolution, amount float64, notes, resolvedBy string) (*Outcome, error) {
	unlock, err := p.lock(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := p.deps.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != settlement.StatusDisputed {
		return nil, fmt.Errorf("booking %s is %s: %w", bookingID, booking.Status, ErrNotDisputed)
	}

	payouts, err := settlement.Resolve(res, booking.Price, amount)
	if err != nil {
		return nil, err
	}

	rec := store.ResolutionRecord{
		ID:           uuid.New(),
		BookingID:    bookingID,
		Resolution:   res,
		RefundAmount: payouts.Mentee,
		Notes:        notes,
		ResolvedBy:   resolvedBy,
	}
	payments := store.PaymentsFor(booking, payouts)
	if err := p.deps.Store.RecordResolution(ctx, rec, payments); err != nil {
		return nil, fmt.Errorf("record resolution: %w", err)
	}

	p.archive(ctx, ledger.ResolutionKey(bookingID), map[string]any{
		"resolutionId": rec.ID,
		"bookingId":    bookingID,
		"resolution":   res,
		"refundAmount": rec.RefundAmount,
		"notes":        notes,
		"resolvedBy":   resolvedBy,
		"payments":     payments,
	}, map[string]string{"booking": bookingID.String(), "resolution": string(res)})

	p.publish(hermes.SubjectSettlementResolved, hermes.SettlementEvent{
		BookingID:  bookingID.String(),
		ServiceID:  booking.ServiceID.String(),
		Status:     settlement.StatusPaid,
		Payouts:    payouts,
		Resolution: string(res),
		ResolvedBy: resolvedBy,
		Timestamp:  time.Now().UTC(),
	})
	p.deps.Metrics.Settlement("resolved")

	p.logger.Info("dispute resolved",
		"booking_id", bookingID,
		"resolution", res,
		"refund", payouts.Mentee,
		"resolved_by", resolvedBy,
	)

	return &Outcome{
		BookingID:  bookingID,
		Status:     settlement.StatusPaid,
		Resolution: res,
		Payouts:    payouts,
	}, nil
}

func (p *Processor) lock(ctx context.Context, bookingID uuid.UUID) (func(), error) {
	if p.deps.Locker == nil {
		return func() {}, nil
	}
	return p.deps.Locker.Acquire(ctx, bookingID)
}

func (p *Processor) publish(subject string, data any) {
	if p.deps.Publisher == nil {
		return
	}
	if err := p.deps.Publisher.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// archive writes to the ledger. Failures are logged and never block settlement.
func (p *Processor) archive(ctx context.Context, key string, record any, metadata map[string]string) {
	if p.deps.Archiver == nil {
		return
	}
	if err := p.deps.Archiver.Add(ctx, key, record, metadata); err != nil {
		p.logger.Warn("failed to archive ledger record", "key", key, "error", err)
	}
}
