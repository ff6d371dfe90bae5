package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

// Booking is a booking joined with the service it books.
type Booking struct {
	ID           uuid.UUID
	ServiceID    uuid.UUID
	ClientID     uuid.UUID
	ProviderID   uuid.UUID
	ServiceTitle string
	Price        float64
	Status       settlement.Status
	BookingTime  time.Time
}

type CompletionRecord struct {
	ID             uuid.UUID
	BookingID      uuid.UUID
	ServiceID      uuid.UUID
	CompletionTime time.Time
	Rating         *float64
	Notes          string
}

// GetBooking fetches a booking and its service.
func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT b.id, b.service_id, b.client_id, sv.provider_id, sv.title, sv.price, b.status, b.booking_time
		FROM bookings b
		JOIN services sv ON sv.id = b.service_id
		WHERE b.id = $1`, id)

	var b Booking
	var status string
	err := row.Scan(&b.ID, &b.ServiceID, &b.ClientID, &b.ProviderID, &b.ServiceTitle, &b.Price, &status, &b.BookingTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b.Status, err = settlement.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("booking %s: %w", id, err)
	}
	return &b, nil
}

// UpdateBookingStatus moves a booking from one status to another. The update
// only applies if the booking is still in from.
func (s *Store) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to settlement.Status) error {
	if err := settlement.Transition(from, to); err != nil {
		return err
	}
	return updateStatus(ctx, s.pool, id, from, to)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateStatus(ctx context.Context, db execer, id uuid.UUID, from, to settlement.Status) error {
	tag, err := db.Exec(ctx, `
		UPDATE bookings SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s %s -> %s: %w", id, from, to, ErrStatusConflict)
	}
	return nil
}

// RecordCompletion stores the completion record for a booking. Recording the
// same booking twice returns the existing record's ID.
func (s *Store) RecordCompletion(ctx context.Context, rec CompletionRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CompletionTime.IsZero() {
		rec.CompletionTime = time.Now().UTC()
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO completion_records (id, booking_id, service_id, completion_time, rating, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (booking_id) DO UPDATE SET notes = completion_records.notes
		RETURNING id`,
		rec.ID, rec.BookingID, rec.ServiceID, rec.CompletionTime, rec.Rating, rec.Notes,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert completion record: %w", err)
	}
	return id, nil
}

// SetCompletionRating stores the final quality rating on the completion record.
func (s *Store) SetCompletionRating(ctx context.Context, bookingID uuid.UUID, rating float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE completion_records SET rating = $1 WHERE booking_id = $2`,
		rating, bookingID,
	)
	if err != nil {
		return fmt.Errorf("set completion rating: %w", err)
	}
	return nil
}

// CountBookingsByStatus returns the number of bookings in each status.
func (s *Store) CountBookingsByStatus(ctx context.Context) (map[settlement.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	defer rows.Close()

	counts := make(map[settlement.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan booking count: %w", err)
		}
		counts[settlement.Status(status)] = n
	}
	return counts, rows.Err()
}
