package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

// EvaluationRecord is a stored evaluation together with the gate decision
// taken on it.
type EvaluationRecord struct {
	ID           uuid.UUID
	BookingID    uuid.UUID
	QualityScore float64
	Evaluation   evaluator.SessionEvaluation
	Decision     settlement.Decision
	Model        string
	CreatedAt    time.Time
}

// RecordEvaluation inserts a validated evaluation.
func (s *Store) RecordEvaluation(ctx context.Context, rec EvaluationRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	dist, err := json.Marshal(rec.Evaluation.PaymentDistribution)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal distribution: %w", err)
	}
	evidence, err := json.Marshal(rec.Evaluation.KeyEvidence)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal evidence: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_evaluations (id, booking_id, quality_score, quality_rating, distribution, key_evidence, justification, decision, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		rec.ID, rec.BookingID, rec.QualityScore, rec.Evaluation.QualityRating,
		string(dist), string(evidence), rec.Evaluation.Justification, string(rec.Decision), rec.Model,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session evaluation: %w", err)
	}
	return rec.ID, nil
}

// GetLatestEvaluation returns the most recent evaluation for a booking.
func (s *Store) GetLatestEvaluation(ctx context.Context, bookingID uuid.UUID) (*EvaluationRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, booking_id, quality_score, quality_rating, distribution::text, key_evidence::text, justification, decision, model, created_at
		FROM session_evaluations
		WHERE booking_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, bookingID)

	var rec EvaluationRecord
	var dist, evidence, decision string
	err := row.Scan(&rec.ID, &rec.BookingID, &rec.QualityScore, &rec.Evaluation.QualityRating,
		&dist, &evidence, &rec.Evaluation.Justification, &decision, &rec.Model, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evaluation for booking %s: %w", bookingID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest evaluation: %w", err)
	}

	if err := json.Unmarshal([]byte(dist), &rec.Evaluation.PaymentDistribution); err != nil {
		return nil, fmt.Errorf("decode distribution: %w", err)
	}
	if err := json.Unmarshal([]byte(evidence), &rec.Evaluation.KeyEvidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	rec.Decision = settlement.Decision(decision)
	return &rec, nil
}

type RatingStats struct {
	ServiceID uuid.UUID `json:"serviceId"`
	Average   float64   `json:"averageRating"`
	Min       float64   `json:"minRating"`
	Max       float64   `json:"maxRating"`
	Count     int       `json:"totalRatings"`
}

// ServiceRatingStats aggregates the latest evaluation of every booking of a service.
func (s *Store) ServiceRatingStats(ctx context.Context, serviceID uuid.UUID) (RatingStats, error) {
	stats := RatingStats{ServiceID: serviceID}
	err := s.pool.QueryRow(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (e.booking_id) e.quality_rating
			FROM session_evaluations e
			JOIN bookings b ON b.id = e.booking_id
			WHERE b.service_id = $1
			ORDER BY e.booking_id, e.created_at DESC
		)
		SELECT COALESCE(avg(quality_rating), 0), COALESCE(min(quality_rating), 0), COALESCE(max(quality_rating), 0), count(*)
		FROM latest`, serviceID,
	).Scan(&stats.Average, &stats.Min, &stats.Max, &stats.Count)
	if err != nil {
		return RatingStats{}, fmt.Errorf("service rating stats: %w", err)
	}
	return stats, nil
}
