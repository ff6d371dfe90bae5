package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/hermes"
	"github.com/MikeSquared-Agency/arbiter/internal/rating"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
	"github.com/MikeSquared-Agency/arbiter/internal/slack"
	"github.com/MikeSquared-Agency/arbiter/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu          sync.Mutex
	bookings    map[uuid.UUID]*store.Booking
	completions int
	evaluations []store.EvaluationRecord
	payments    []store.Payment
	resolutions []store.ResolutionRecord
	rating      *float64
}

func newFakeStore(bookings ...*store.Booking) *fakeStore {
	s := &fakeStore{bookings: make(map[uuid.UUID]*store.Booking)}
	for _, b := range bookings {
		s.bookings[b.ID] = b
	}
	return s
}

func (s *fakeStore) GetBooking(_ context.Context, id uuid.UUID) (*store.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *fakeStore) transition(id uuid.UUID, from, to settlement.Status) error {
	b, ok := s.bookings[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := settlement.Transition(from, to); err != nil {
		return err
	}
	if b.Status != from {
		return store.ErrStatusConflict
	}
	b.Status = to
	return nil
}

func (s *fakeStore) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to settlement.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, from, to)
}

func (s *fakeStore) RecordCompletion(_ context.Context, rec store.CompletionRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions++
	return uuid.New(), nil
}

func (s *fakeStore) SetCompletionRating(_ context.Context, _ uuid.UUID, r float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rating = &r
	return nil
}

func (s *fakeStore) RecordEvaluation(_ context.Context, rec store.EvaluationRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, rec)
	return uuid.New(), nil
}

func (s *fakeStore) RecordPayments(_ context.Context, id uuid.UUID, from, to settlement.Status, payments []store.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(id, from, to); err != nil {
		return err
	}
	s.payments = append(s.payments, payments...)
	return nil
}

func (s *fakeStore) RecordResolution(_ context.Context, res store.ResolutionRecord, payments []store.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(res.BookingID, settlement.StatusDisputed, settlement.StatusPaid); err != nil {
		return err
	}
	s.resolutions = append(s.resolutions, res)
	s.payments = append(s.payments, payments...)
	return nil
}

func (s *fakeStore) status(id uuid.UUID) settlement.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id].Status
}

type fakeEvaluator struct {
	ev    *evaluator.SessionEvaluation
	err   error
	calls int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ evaluator.SessionMetrics) (*evaluator.SessionEvaluation, error) {
	f.calls++
	return f.ev, f.err
}

type published struct {
	subject string
	data    any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{subject, data})
	return nil
}

func (f *fakePublisher) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.subject)
	}
	return out
}

type fakePoster struct {
	disputes []slack.Dispute
	threads  []string
	err      error
}

func (f *fakePoster) PostDispute(_ context.Context, d slack.Dispute) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.disputes = append(f.disputes, d)
	return fmt.Sprintf("1700000000.%06d", len(f.disputes)), nil
}

func (f *fakePoster) PostThread(_ context.Context, ts, text string) error {
	f.threads = append(f.threads, text)
	return nil
}

type fakeArchiver struct {
	keys []string
	err  error
}

func (f *fakeArchiver) Add(_ context.Context, key string, _ any, _ map[string]string) error {
	f.keys = append(f.keys, key)
	return f.err
}

type fakeLocker struct{ err error }

func (f *fakeLocker) Acquire(context.Context, uuid.UUID) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() {}, nil
}

type fakeTranscripts struct {
	m   *evaluator.SessionMetrics
	err error
}

func (f *fakeTranscripts) Fetch(context.Context, uuid.UUID) (*evaluator.SessionMetrics, error) {
	return f.m, f.err
}

type harness struct {
	proc     *Processor
	store    *fakeStore
	eval     *fakeEvaluator
	pub      *fakePublisher
	poster   *fakePoster
	archiver *fakeArchiver
	booking  *store.Booking
}

func newHarness(t *testing.T, status settlement.Status, ev *evaluator.SessionEvaluation) *harness {
	t.Helper()
	b := &store.Booking{
		ID:           uuid.New(),
		ServiceID:    uuid.New(),
		ClientID:     uuid.New(),
		ProviderID:   uuid.New(),
		ServiceTitle: "Go code review",
		Price:        100,
		Status:       status,
	}
	h := &harness{
		store:    newFakeStore(b),
		eval:     &fakeEvaluator{ev: ev},
		pub:      &fakePublisher{},
		poster:   &fakePoster{},
		archiver: &fakeArchiver{},
		booking:  b,
	}
	h.proc = New(Deps{
		Store:     h.store,
		Evaluator: h.eval,
		Publisher: h.pub,
		Locker:    &fakeLocker{},
		Archiver:  h.archiver,
		Disputes:  h.poster,
		Model:     "test-model",
	}, settlement.DefaultPolicy(), discardLogger())
	return h
}

func goodEvaluation() *evaluator.SessionEvaluation {
	return &evaluator.SessionEvaluation{
		QualityRating:       4.0,
		PaymentDistribution: rating.Split{Mentor: 70, Mentee: 25, Agent: 2.5, Platform: 2.5},
		KeyEvidence:         evaluator.Evidence{{Key: "evidence1", Text: "solved three problems"}},
		Justification:       "Solid.",
	}
}

func metricsWithScore(score float64) *evaluator.SessionMetrics {
	return &evaluator.SessionMetrics{
		Transcript:       "Mentor: hi\nMentee: hello",
		QualityScoreHint: score,
	}
}

func TestSettle_ReleasesAboveThreshold(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())

	out, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(9.2), "went well")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Decision != settlement.DecisionRelease || out.Status != settlement.StatusPaid {
		t.Errorf("expected release to paid, got %s/%s", out.Decision, out.Status)
	}
	if h.store.status(h.booking.ID) != settlement.StatusPaid {
		t.Errorf("booking status = %s, want paid", h.store.status(h.booking.ID))
	}
	if h.store.completions != 1 {
		t.Errorf("expected 1 completion record, got %d", h.store.completions)
	}
	if len(h.store.evaluations) != 1 || h.store.evaluations[0].Model != "test-model" {
		t.Errorf("unexpected evaluation records: %+v", h.store.evaluations)
	}
	if h.store.rating == nil || *h.store.rating != 4.0 {
		t.Errorf("completion rating not stored")
	}

	var total float64
	for _, p := range h.store.payments {
		total += p.Amount
	}
	if total != 100 || len(h.store.payments) != 4 {
		t.Errorf("expected 4 payments summing to 100, got %d summing to %v", len(h.store.payments), total)
	}
	if out.Payouts.Mentor != 70 || out.Payouts.Mentee != 25 {
		t.Errorf("unexpected payouts: %+v", out.Payouts)
	}

	subjects := h.pub.subjects()
	if len(subjects) != 1 || subjects[0] != hermes.SubjectSettlementReleased {
		t.Errorf("expected one released event, got %v", subjects)
	}
	if len(h.poster.disputes) != 0 {
		t.Error("released booking should not be posted for review")
	}
	if len(h.archiver.keys) < 2 {
		t.Errorf("expected completion, evaluation and payment ledger records, got %v", h.archiver.keys)
	}
}

func TestSettle_HoldsBelowThreshold(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())

	out, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(4.5), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Decision != settlement.DecisionHold || out.Status != settlement.StatusDisputed {
		t.Errorf("expected hold to disputed, got %s/%s", out.Decision, out.Status)
	}
	if h.store.status(h.booking.ID) != settlement.StatusDisputed {
		t.Errorf("booking status = %s, want disputed", h.store.status(h.booking.ID))
	}
	if len(h.store.payments) != 0 {
		t.Errorf("held booking should have no payments, got %d", len(h.store.payments))
	}
	if len(h.poster.disputes) != 1 || h.poster.disputes[0].QualityScore != 4.5 {
		t.Errorf("expected one dispute post, got %+v", h.poster.disputes)
	}
	if h.proc.PendingDisputes() != 1 {
		t.Errorf("expected 1 pending dispute, got %d", h.proc.PendingDisputes())
	}
	subjects := h.pub.subjects()
	if len(subjects) != 1 || subjects[0] != hermes.SubjectSettlementDisputed {
		t.Errorf("expected one disputed event, got %v", subjects)
	}
}

func TestSettle_ThresholdIsInclusive(t *testing.T) {
	h := newHarness(t, settlement.StatusCompleted, goodEvaluation())

	out, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(settlement.DefaultReleaseThreshold), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Decision != settlement.DecisionRelease {
		t.Errorf("score at threshold should release, got %s", out.Decision)
	}
	if h.store.completions != 1 {
		t.Error("completion should be recorded for a completed booking")
	}
}

func TestSettle_EvaluationFailureLeavesCompleted(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, nil)
	h.eval.err = evaluator.ErrNoJSON

	_, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(9), "")
	if !errors.Is(err, evaluator.ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
	if h.store.status(h.booking.ID) != settlement.StatusCompleted {
		t.Errorf("booking status = %s, want completed", h.store.status(h.booking.ID))
	}
	if len(h.store.evaluations) != 0 || len(h.store.payments) != 0 {
		t.Error("failed evaluation must not persist an evaluation or payments")
	}

	subjects := h.pub.subjects()
	if len(subjects) != 1 || subjects[0] != hermes.SubjectEvaluationFailed {
		t.Fatalf("expected evaluation failed event, got %v", subjects)
	}
	evt := h.pub.events[0].data.(hermes.EvaluationFailedEvent)
	if evt.ErrorKind != "no_json" {
		t.Errorf("error kind = %q, want no_json", evt.ErrorKind)
	}

	// A retry after a failure picks the completed booking back up.
	h.eval.err = nil
	h.eval.ev = goodEvaluation()
	if _, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(9), ""); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if h.store.status(h.booking.ID) != settlement.StatusPaid {
		t.Errorf("booking status after retry = %s, want paid", h.store.status(h.booking.ID))
	}
}

func TestSettle_AlreadySettled(t *testing.T) {
	for _, status := range []settlement.Status{settlement.StatusPaid, settlement.StatusDisputed, settlement.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, status, goodEvaluation())
			_, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(9), "")
			if !errors.Is(err, ErrAlreadySettled) {
				t.Errorf("expected ErrAlreadySettled, got %v", err)
			}
			if h.eval.calls != 0 {
				t.Error("evaluator should not run for a settled booking")
			}
		})
	}
}

func TestSettle_NotFound(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	_, err := h.proc.Settle(context.Background(), uuid.New(), metricsWithScore(9), "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSettle_LockHeld(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	held := errors.New("held")
	h.proc.deps.Locker = &fakeLocker{err: held}

	_, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(9), "")
	if !errors.Is(err, held) {
		t.Errorf("expected lock error, got %v", err)
	}
	if h.store.status(h.booking.ID) != settlement.StatusConfirmed {
		t.Error("booking should be untouched when the lock is held")
	}
}

func TestSettle_FetchesTranscriptWhenMetricsMissing(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	h.proc.deps.Transcripts = &fakeTranscripts{m: metricsWithScore(8)}

	out, err := h.proc.Settle(context.Background(), h.booking.ID, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.QualityScore != 8 {
		t.Errorf("expected fetched score 8, got %v", out.QualityScore)
	}
}

func TestSettle_NoMetricsNoTranscripts(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	if _, err := h.proc.Settle(context.Background(), h.booking.ID, nil, ""); !errors.Is(err, ErrNoTranscriptSource) {
		t.Fatalf("expected ErrNoTranscriptSource, got %v", err)
	}
	if h.eval.calls != 0 {
		t.Error("evaluator should not run without metrics")
	}
}

func TestSettle_InvalidMetrics(t *testing.T) {
	tests := []struct {
		name string
		m    *evaluator.SessionMetrics
	}{
		{"empty transcript", &evaluator.SessionMetrics{QualityScoreHint: 8}},
		{"score above 10", &evaluator.SessionMetrics{Transcript: "t", QualityScoreHint: 11}},
		{"negative score", &evaluator.SessionMetrics{Transcript: "t", QualityScoreHint: -1}},
		{"speaker share above 100", &evaluator.SessionMetrics{Transcript: "t", Speakers: evaluator.SpeakerBreakdown{InstructorPct: 120}}},
		{"unnamed metric", &evaluator.SessionMetrics{Transcript: "t", Engagement: []evaluator.Metric{{Value: 1.0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
			_, err := h.proc.Settle(context.Background(), h.booking.ID, tt.m, "")
			if !errors.Is(err, ErrInvalidMetrics) {
				t.Errorf("expected ErrInvalidMetrics, got %v", err)
			}
		})
	}
}

func TestSettle_ArchiveFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	h.archiver.err = errors.New("bucket unavailable")

	if _, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(9), ""); err != nil {
		t.Fatalf("archive failure should not fail settlement: %v", err)
	}
	if h.store.status(h.booking.ID) != settlement.StatusPaid {
		t.Error("booking should still be paid")
	}
}

func TestSettle_SlackFailureStillHolds(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	h.poster.err = errors.New("channel_not_found")

	out, err := h.proc.Settle(context.Background(), h.booking.ID, metricsWithScore(3), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != settlement.StatusDisputed {
		t.Errorf("expected disputed, got %s", out.Status)
	}
	if h.proc.PendingDisputes() != 0 {
		t.Error("failed post should not be tracked")
	}
}

func TestResolveDispute(t *testing.T) {
	tests := []struct {
		name       string
		res        settlement.Resolution
		amount     float64
		wantMentor float64
		wantMentee float64
	}{
		{"no refund", settlement.ResolutionNoRefund, 0, 100, 0},
		{"full refund", settlement.ResolutionFullRefund, 0, 0, 100},
		{"partial refund", settlement.ResolutionPartialRefund, 30, 70, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, settlement.StatusDisputed, nil)

			out, err := h.proc.ResolveDispute(context.Background(), h.booking.ID, tt.res, tt.amount, "reviewed", "ops")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Payouts.Mentor != tt.wantMentor || out.Payouts.Mentee != tt.wantMentee {
				t.Errorf("payouts = %+v, want mentor %v mentee %v", out.Payouts, tt.wantMentor, tt.wantMentee)
			}
			if h.store.status(h.booking.ID) != settlement.StatusPaid {
				t.Errorf("status = %s, want paid", h.store.status(h.booking.ID))
			}
			if len(h.store.resolutions) != 1 || h.store.resolutions[0].RefundAmount != tt.wantMentee {
				t.Errorf("unexpected resolution records: %+v", h.store.resolutions)
			}
			if s := h.pub.subjects(); len(s) != 1 || s[0] != hermes.SubjectSettlementResolved {
				t.Errorf("expected resolved event, got %v", s)
			}
		})
	}
}

func TestResolveDispute_Rejected(t *testing.T) {
	t.Run("not disputed", func(t *testing.T) {
		h := newHarness(t, settlement.StatusPaid, nil)
		_, err := h.proc.ResolveDispute(context.Background(), h.booking.ID, settlement.ResolutionNoRefund, 0, "", "ops")
		if !errors.Is(err, ErrNotDisputed) {
			t.Errorf("expected ErrNotDisputed, got %v", err)
		}
	})

	t.Run("partial refund above price", func(t *testing.T) {
		h := newHarness(t, settlement.StatusDisputed, nil)
		_, err := h.proc.ResolveDispute(context.Background(), h.booking.ID, settlement.ResolutionPartialRefund, 150, "", "ops")
		if !errors.Is(err, settlement.ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount, got %v", err)
		}
		if h.store.status(h.booking.ID) != settlement.StatusDisputed {
			t.Error("booking should stay disputed")
		}
	})
}

func TestHandleSessionCompleted(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	data, _ := json.Marshal(hermes.SessionCompletedEvent{
		BookingID: h.booking.ID.String(),
		Metrics:   metricsWithScore(9),
	})

	h.proc.HandleSessionCompleted(hermes.SubjectSessionCompleted, data)

	if h.store.status(h.booking.ID) != settlement.StatusPaid {
		t.Errorf("status = %s, want paid", h.store.status(h.booking.ID))
	}
}

func TestHandleSessionCompleted_BadPayload(t *testing.T) {
	h := newHarness(t, settlement.StatusConfirmed, goodEvaluation())
	h.proc.HandleSessionCompleted(hermes.SubjectSessionCompleted, []byte(`{"booking_id":"not-a-uuid"}`))
	h.proc.HandleSessionCompleted(hermes.SubjectSessionCompleted, []byte(`not json`))

	if h.eval.calls != 0 {
		t.Error("evaluator should not run for bad payloads")
	}
}
