// Package settlement decides what happens to a booking's escrow once its
// session has been evaluated.
package settlement

import "fmt"

// DefaultReleaseThreshold is the quality score (0-10) at or above which
// funds are released without review.
const DefaultReleaseThreshold = 7.0

type Decision string

const (
	DecisionRelease Decision = "release"
	DecisionHold    Decision = "hold"
)

// Policy is the single release rule applied to every completed booking.
type Policy struct {
	ReleaseThreshold float64
}

func DefaultPolicy() Policy {
	return Policy{ReleaseThreshold: DefaultReleaseThreshold}
}

func (p Policy) Validate() error {
	if p.ReleaseThreshold < 0 || p.ReleaseThreshold > 10 {
		return fmt.Errorf("release threshold %g is outside [0, 10]", p.ReleaseThreshold)
	}
	return nil
}

// Decide compares the session's quality score against the threshold.
// The comparison is inclusive: a score equal to the threshold is released.
func Decide(p Policy, qualityScore float64) Decision {
	if qualityScore >= p.ReleaseThreshold {
		return DecisionRelease
	}
	return DecisionHold
}

// Target is the booking status a decision moves a completed booking to.
func (d Decision) Target() Status {
	if d == DecisionRelease {
		return StatusPaid
	}
	return StatusDisputed
}
