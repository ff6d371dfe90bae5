package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/ledger"
	"github.com/MikeSquared-Agency/arbiter/internal/processor"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
	"github.com/MikeSquared-Agency/arbiter/internal/store"
)

// Store is the read side of the marketplace database used by the API.
type Store interface {
	CountBookingsByStatus(ctx context.Context) (map[settlement.Status]int, error)
	GetLatestEvaluation(ctx context.Context, bookingID uuid.UUID) (*store.EvaluationRecord, error)
	ServiceRatingStats(ctx context.Context, serviceID uuid.UUID) (store.RatingStats, error)
	PaymentStats(ctx context.Context, recipientID uuid.UUID) (store.PaymentStats, error)
	ListPayments(ctx context.Context, bookingID uuid.UUID) ([]store.Payment, error)
}

// Ledger reads the settlement archive.
type Ledger interface {
	History(ctx context.Context, bookingID uuid.UUID) ([]ledger.Entry, error)
	Get(ctx context.Context, key string, v any) error
}

// Settler runs settlements on demand.
type Settler interface {
	Settle(ctx context.Context, bookingID uuid.UUID, m *evaluator.SessionMetrics, notes string) (*processor.Outcome, error)
	ResolveDispute(ctx context.Context, bookingID uuid.UUID, res settlement.Resolution, amount float64, notes, resolvedBy string) (*processor.Outcome, error)
}

// DisputeCounter reports disputes still waiting on a Slack decision.
type DisputeCounter interface {
	PendingDisputes() int
}

type Options struct {
	Port     int
	APIToken string
	Store    Store
	Settler  Settler
	Ledger   Ledger
	Disputes DisputeCounter
	Metrics  http.Handler
	Policy   settlement.Policy
}

type Server struct {
	router   *chi.Mux
	port     int
	store    Store
	settler  Settler
	ledger   Ledger
	disputes DisputeCounter
	policy   settlement.Policy
	validate *validator.Validate
	http     *http.Server
}

func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     opts.Port,
		store:    opts.Store,
		settler:  opts.Settler,
		ledger:   opts.Ledger,
		disputes: opts.Disputes,
		policy:   opts.Policy,
		validate: validator.New(),
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/arbiter/status", s.status)
	router.Get("/api/v1/ratings", s.ratingScale)
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.APIToken))
		r.Post("/api/v1/bookings/{id}/evaluate", s.evaluateBooking)
		r.Post("/api/v1/bookings/{id}/resolve", s.resolveBooking)
		r.Get("/api/v1/bookings/{id}/evaluation", s.bookingEvaluation)
		r.Get("/api/v1/bookings/{id}/payments", s.bookingPayments)
		r.Get("/api/v1/bookings/{id}/ledger", s.bookingLedger)
		r.Get("/api/v1/bookings/{id}/ledger/record", s.bookingLedgerRecord)
		r.Get("/api/v1/services/{id}/ratings", s.serviceRatings)
		r.Get("/api/v1/users/{id}/payments/stats", s.userPaymentStats)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"agent":            "arbiter",
		"status":           "active",
		"releaseThreshold": s.policy.ReleaseThreshold,
	}
	if s.store != nil {
		counts, err := s.store.CountBookingsByStatus(r.Context())
		if err != nil {
			slog.Warn("failed to count bookings", "error", err)
		} else {
			body["bookings"] = counts
		}
	}
	if s.disputes != nil {
		body["pendingDisputes"] = s.disputes.PendingDisputes()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
