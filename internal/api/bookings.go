package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/ledger"
	"github.com/MikeSquared-Agency/arbiter/internal/lock"
	"github.com/MikeSquared-Agency/arbiter/internal/processor"
	"github.com/MikeSquared-Agency/arbiter/internal/rating"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
	"github.com/MikeSquared-Agency/arbiter/internal/store"
	"github.com/MikeSquared-Agency/arbiter/internal/transcripts"
)

// EvaluateRequest is the body of POST /bookings/{id}/evaluate. An empty body
// asks the transcript service for the session metrics.
type EvaluateRequest struct {
	evaluator.SessionMetrics
	Notes string `json:"notes,omitempty"`
}

// ResolveRequest is the body of POST /bookings/{id}/resolve.
type ResolveRequest struct {
	Resolution string  `json:"resolution" validate:"required,oneof=full_refund partial_refund no_refund"`
	Amount     float64 `json:"amount" validate:"gte=0"`
	Notes      string  `json:"notes" validate:"max=2000"`
	ResolvedBy string  `json:"resolvedBy" validate:"max=200"`
}

type evaluationResponse struct {
	ID           uuid.UUID                   `json:"id"`
	BookingID    uuid.UUID                   `json:"bookingId"`
	QualityScore float64                     `json:"qualityScore"`
	Decision     settlement.Decision         `json:"decision"`
	Model        string                      `json:"model"`
	Evaluation   evaluator.SessionEvaluation `json:"evaluation"`
	Report       string                      `json:"report"`
	CreatedAt    string                      `json:"createdAt"`
}

// evaluateBooking handles POST /api/v1/bookings/{id}/evaluate
func (s *Server) evaluateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var metrics *evaluator.SessionMetrics
	var notes string
	if len(body) > 0 {
		var req EvaluateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		metrics = &req.SessionMetrics
		notes = req.Notes
	}

	out, err := s.settler.Settle(r.Context(), id, metrics, notes)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// resolveBooking handles POST /api/v1/bookings/{id}/resolve
func (s *Server) resolveBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := settlement.ParseResolution(req.Resolution)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "api"
	}

	out, err := s.settler.ResolveDispute(r.Context(), id, res, req.Amount, req.Notes, req.ResolvedBy)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// bookingEvaluation handles GET /api/v1/bookings/{id}/evaluation
func (s *Server) bookingEvaluation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	rec, err := s.store.GetLatestEvaluation(r.Context(), id)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluationResponse{
		ID:           rec.ID,
		BookingID:    rec.BookingID,
		QualityScore: rec.QualityScore,
		Decision:     rec.Decision,
		Model:        rec.Model,
		Evaluation:   rec.Evaluation,
		Report:       evaluator.FormatReport(&rec.Evaluation),
		CreatedAt:    rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// bookingPayments handles GET /api/v1/bookings/{id}/payments
func (s *Server) bookingPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	payments, err := s.store.ListPayments(r.Context(), id)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	if payments == nil {
		payments = []store.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments, "count": len(payments)})
}

// serviceRatings handles GET /api/v1/services/{id}/ratings
func (s *Server) serviceRatings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	stats, err := s.store.ServiceRatingStats(r.Context(), id)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// userPaymentStats handles GET /api/v1/users/{id}/payments/stats
func (s *Server) userPaymentStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	stats, err := s.store.PaymentStats(r.Context(), id)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ratingScale handles GET /api/v1/ratings
func (s *Server) ratingScale(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"min":   rating.MinRating,
		"max":   rating.MaxRating,
		"bands": rating.Bands(),
	})
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// writeSettleError maps domain errors to HTTP status codes.
func writeSettleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, transcripts.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, transcripts.ErrNotConfigured),
		errors.Is(err, processor.ErrNoTranscriptSource):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, lock.ErrHeld),
		errors.Is(err, processor.ErrAlreadySettled),
		errors.Is(err, processor.ErrNotDisputed),
		errors.Is(err, settlement.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, processor.ErrInvalidMetrics),
		errors.Is(err, settlement.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case evaluator.Kind(err) != "unknown":
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
			"kind":  evaluator.Kind(err),
		})
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
