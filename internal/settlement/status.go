package settlement

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusPaid      Status = "paid"
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
)

var ErrInvalidTransition = errors.New("invalid booking status transition")

var transitions = map[Status][]Status{
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusPaid, StatusDisputed},
	StatusDisputed:  {StatusPaid},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusConfirmed, StatusCompleted, StatusPaid, StatusDisputed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition checks that a booking may move from one status to another.
func Transition(from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
