//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/rating"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if _, err := s.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func seedBooking(t *testing.T, s *Store, price float64) *Booking {
	t.Helper()
	ctx := context.Background()
	serviceID, bookingID := uuid.New(), uuid.New()
	providerID, clientID := uuid.New(), uuid.New()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (id, provider_id, title, price) VALUES ($1, $2, 'Go mentoring', $3)`,
		serviceID, providerID, price)
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bookings (id, service_id, client_id, status) VALUES ($1, $2, $3, 'confirmed')`,
		bookingID, serviceID, clientID)
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	return b
}

func TestIntegration_BookingLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	b := seedBooking(t, s, 100)

	if b.Status != settlement.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", b.Status)
	}
	if b.Price != 100 {
		t.Errorf("expected price 100, got %f", b.Price)
	}

	id1, err := s.RecordCompletion(ctx, CompletionRecord{BookingID: b.ID, ServiceID: b.ServiceID, Notes: "done"})
	if err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	id2, err := s.RecordCompletion(ctx, CompletionRecord{BookingID: b.ID, ServiceID: b.ServiceID})
	if err != nil {
		t.Fatalf("second RecordCompletion failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected completion to be recorded once, got %s and %s", id1, id2)
	}

	if err := s.UpdateBookingStatus(ctx, b.ID, settlement.StatusConfirmed, settlement.StatusCompleted); err != nil {
		t.Fatalf("UpdateBookingStatus failed: %v", err)
	}
	err = s.UpdateBookingStatus(ctx, b.ID, settlement.StatusConfirmed, settlement.StatusCompleted)
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict on stale update, got %v", err)
	}
	err = s.UpdateBookingStatus(ctx, b.ID, settlement.StatusCompleted, settlement.StatusConfirmed)
	if !errors.Is(err, settlement.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	ev := evaluator.SessionEvaluation{
		QualityRating:       4.0,
		PaymentDistribution: rating.SplitFor(4.0),
		KeyEvidence: evaluator.Evidence{
			{Key: "evidence2", Text: "second"},
			{Key: "evidence1", Text: "first"},
		},
		Justification: "good",
	}
	if _, err := s.RecordEvaluation(ctx, EvaluationRecord{
		BookingID: b.ID, QualityScore: 8.5, Evaluation: ev, Decision: settlement.DecisionRelease, Model: "test-model",
	}); err != nil {
		t.Fatalf("RecordEvaluation failed: %v", err)
	}

	got, err := s.GetLatestEvaluation(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetLatestEvaluation failed: %v", err)
	}
	if got.Evaluation.QualityRating != 4.0 || got.QualityScore != 8.5 {
		t.Errorf("unexpected evaluation: %+v", got)
	}
	if got.Evaluation.KeyEvidence[0].Key != "evidence2" {
		t.Errorf("expected evidence order preserved, got %+v", got.Evaluation.KeyEvidence)
	}

	payments := PaymentsFor(b, settlement.Compute(b.Price, ev.PaymentDistribution))
	if err := s.RecordPayments(ctx, b.ID, settlement.StatusCompleted, settlement.StatusPaid, payments); err != nil {
		t.Fatalf("RecordPayments failed: %v", err)
	}

	b, _ = s.GetBooking(ctx, b.ID)
	if b.Status != settlement.StatusPaid {
		t.Errorf("expected paid, got %s", b.Status)
	}

	stored, err := s.ListPayments(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(stored) != 4 {
		t.Errorf("expected 4 payments, got %d", len(stored))
	}

	stats, err := s.PaymentStats(ctx, b.ProviderID)
	if err != nil {
		t.Fatalf("PaymentStats failed: %v", err)
	}
	if stats.TotalEarnings != 70 || stats.TotalPayments != 1 {
		t.Errorf("unexpected mentor stats: %+v", stats)
	}

	rs, err := s.ServiceRatingStats(ctx, b.ServiceID)
	if err != nil {
		t.Fatalf("ServiceRatingStats failed: %v", err)
	}
	if rs.Count != 1 || rs.Average != 4.0 {
		t.Errorf("unexpected rating stats: %+v", rs)
	}
}

func TestIntegration_DisputeResolution(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	b := seedBooking(t, s, 40)

	for _, step := range [][2]settlement.Status{
		{settlement.StatusConfirmed, settlement.StatusCompleted},
		{settlement.StatusCompleted, settlement.StatusDisputed},
	} {
		if err := s.UpdateBookingStatus(ctx, b.ID, step[0], step[1]); err != nil {
			t.Fatalf("UpdateBookingStatus %s -> %s failed: %v", step[0], step[1], err)
		}
	}

	payout, err := settlement.Resolve(settlement.ResolutionPartialRefund, b.Price, 10)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	res := ResolutionRecord{BookingID: b.ID, Resolution: settlement.ResolutionPartialRefund, RefundAmount: 10, ResolvedBy: "reviewer"}
	if err := s.RecordResolution(ctx, res, PaymentsFor(b, payout)); err != nil {
		t.Fatalf("RecordResolution failed: %v", err)
	}

	err = s.RecordResolution(ctx, res, nil)
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected second resolution to conflict, got %v", err)
	}

	stats, err := s.PaymentStats(ctx, b.ClientID)
	if err != nil {
		t.Fatalf("PaymentStats failed: %v", err)
	}
	if stats.TotalEarnings != 10 {
		t.Errorf("expected mentee refund 10, got %f", stats.TotalEarnings)
	}
}

func TestIntegration_GetBookingNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetBooking(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIntegration_QualityScoreKeepsHundredths(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	b := seedBooking(t, s, 50)

	ev := evaluator.SessionEvaluation{
		QualityRating:       3.5,
		PaymentDistribution: rating.SplitFor(3.5),
		KeyEvidence:         evaluator.Evidence{{Key: "evidence1", Text: "ran over time"}},
		Justification:       "just under the line",
	}
	if _, err := s.RecordEvaluation(ctx, EvaluationRecord{
		BookingID: b.ID, QualityScore: 6.95, Evaluation: ev, Decision: settlement.DecisionHold,
	}); err != nil {
		t.Fatalf("RecordEvaluation failed: %v", err)
	}

	got, err := s.GetLatestEvaluation(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetLatestEvaluation failed: %v", err)
	}
	if got.QualityScore != 6.95 {
		t.Errorf("expected quality score 6.95, got %v", got.QualityScore)
	}
	if settlement.Decide(settlement.DefaultPolicy(), got.QualityScore) != settlement.DecisionHold {
		t.Errorf("expected stored score to stay below the release threshold")
	}
}
