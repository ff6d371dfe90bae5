package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

type PaymentRole string

const (
	RoleMentor   PaymentRole = "mentor"
	RoleMentee   PaymentRole = "mentee"
	RoleAgent    PaymentRole = "agent"
	RolePlatform PaymentRole = "platform"
)

type Payment struct {
	ID              uuid.UUID   `json:"id"`
	BookingID       uuid.UUID   `json:"bookingId"`
	ServiceID       uuid.UUID   `json:"serviceId"`
	RecipientID     *uuid.UUID  `json:"recipientId,omitempty"`
	Role            PaymentRole `json:"role"`
	Amount          float64     `json:"amount"`
	Status          string      `json:"status"`
	TransactionTime time.Time   `json:"transactionTime"`
}

// PaymentsFor builds one completed payment per non-zero share of p. Agent and
// platform shares have no individual recipient.
func PaymentsFor(b *Booking, p settlement.Payouts) []Payment {
	now := time.Now().UTC()
	provider, client := b.ProviderID, b.ClientID

	shares := []struct {
		role      PaymentRole
		recipient *uuid.UUID
		amount    float64
	}{
		{RoleMentor, &provider, p.Mentor},
		{RoleMentee, &client, p.Mentee},
		{RoleAgent, nil, p.Agent},
		{RolePlatform, nil, p.Platform},
	}

	var out []Payment
	for _, sh := range shares {
		if sh.amount <= 0 {
			continue
		}
		out = append(out, Payment{
			ID:              uuid.New(),
			BookingID:       b.ID,
			ServiceID:       b.ServiceID,
			RecipientID:     sh.recipient,
			Role:            sh.role,
			Amount:          sh.amount,
			Status:          "completed",
			TransactionTime: now,
		})
	}
	return out
}

// RecordPayments inserts payments and moves the booking from one status to
// another in a single transaction.
func (s *Store) RecordPayments(ctx context.Context, bookingID uuid.UUID, from, to settlement.Status, payments []Payment) error {
	if err := settlement.Transition(from, to); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertPayments(ctx, tx, payments); err != nil {
			return err
		}
		return updateStatus(ctx, tx, bookingID, from, to)
	})
}

type ResolutionRecord struct {
	ID           uuid.UUID
	BookingID    uuid.UUID
	Resolution   settlement.Resolution
	RefundAmount float64
	Notes        string
	ResolvedBy   string
}

// RecordResolution stores a manual dispute outcome with its payments and
// moves the booking from disputed to paid.
func (s *Store) RecordResolution(ctx context.Context, res ResolutionRecord, payments []Payment) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateStatus(ctx, tx, res.BookingID, settlement.StatusDisputed, settlement.StatusPaid); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO dispute_resolutions (id, booking_id, resolution, refund_amount, notes, resolved_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			res.ID, res.BookingID, string(res.Resolution), res.RefundAmount, res.Notes, res.ResolvedBy,
		)
		if err != nil {
			return fmt.Errorf("insert dispute resolution: %w", err)
		}
		return insertPayments(ctx, tx, payments)
	})
}

func insertPayments(ctx context.Context, tx pgx.Tx, payments []Payment) error {
	for _, p := range payments {
		_, err := tx.Exec(ctx, `
			INSERT INTO payments (id, booking_id, service_id, recipient_id, role, payment_amount, status, transaction_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.BookingID, p.ServiceID, p.RecipientID, string(p.Role), p.Amount, p.Status, p.TransactionTime,
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}
	return nil
}

type PaymentStats struct {
	RecipientID   uuid.UUID `json:"recipientId"`
	TotalEarnings float64   `json:"totalEarnings"`
	TotalPayments int       `json:"totalPayments"`
	Average       float64   `json:"averagePayment"`
}

// PaymentStats aggregates completed payments received by a user.
func (s *Store) PaymentStats(ctx context.Context, recipientID uuid.UUID) (PaymentStats, error) {
	stats := PaymentStats{RecipientID: recipientID}
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(payment_amount), 0), count(*), COALESCE(avg(payment_amount), 0)
		FROM payments
		WHERE recipient_id = $1 AND status = 'completed'`, recipientID,
	).Scan(&stats.TotalEarnings, &stats.TotalPayments, &stats.Average)
	if err != nil {
		return PaymentStats{}, fmt.Errorf("payment stats: %w", err)
	}
	return stats, nil
}

// ListPayments returns the payments recorded for a booking.
func (s *Store) ListPayments(ctx context.Context, bookingID uuid.UUID) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, booking_id, service_id, recipient_id, role, payment_amount, status, transaction_time
		FROM payments WHERE booking_id = $1
		ORDER BY transaction_time, role`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		var role string
		if err := rows.Scan(&p.ID, &p.BookingID, &p.ServiceID, &p.RecipientID, &role, &p.Amount, &p.Status, &p.TransactionTime); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Role = PaymentRole(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
