package settlement

import (
	"errors"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/arbiter/internal/rating"
)

// amountScale is USDC precision.
const amountScale = 1e6

type Resolution string

const (
	ResolutionFullRefund    Resolution = "full_refund"
	ResolutionPartialRefund Resolution = "partial_refund"
	ResolutionNoRefund      Resolution = "no_refund"
)

var ErrInvalidAmount = errors.New("invalid refund amount")

func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionNoRefund:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// Payouts is a booking price broken into amounts per party. The four parts
// always sum to the price.
type Payouts struct {
	Mentor   float64 `json:"mentor"`
	Mentee   float64 `json:"mentee"`
	Agent    float64 `json:"agent"`
	Platform float64 `json:"platform"`
}

func (p Payouts) Total() float64 {
	return p.Mentor + p.Mentee + p.Agent + p.Platform
}

// Compute converts a percentage split into amounts. Amounts are kept in
// millionths: each share is rounded down and the residue goes to the platform,
// so no part is negative and the parts sum to the price.
func Compute(price float64, split rating.Split) Payouts {
	total := split.Total()
	micros := int64(math.Round(price * amountScale))
	if total <= 0 || micros <= 0 {
		return Payouts{Platform: round(price)}
	}
	share := func(pct float64) int64 {
		if pct <= 0 {
			return 0
		}
		// The epsilon absorbs float noise on exact products like 200 * 70 / 100.
		return int64(math.Floor(float64(micros)*pct/total + 1e-6))
	}

	parts := [4]int64{share(split.Mentor), share(split.Mentee), share(split.Agent), share(split.Platform)}
	residue := micros - parts[0] - parts[1] - parts[2] - parts[3]
	for residue < 0 {
		i := largest(parts)
		take := min(parts[i], -residue)
		parts[i] -= take
		residue += take
	}
	parts[3] += residue

	return Payouts{
		Mentor:   fromMicros(parts[0]),
		Mentee:   fromMicros(parts[1]),
		Agent:    fromMicros(parts[2]),
		Platform: fromMicros(parts[3]),
	}
}

func largest(parts [4]int64) int {
	idx := 0
	for i, v := range parts {
		if v > parts[idx] {
			idx = i
		}
	}
	return idx
}

func fromMicros(v int64) float64 {
	return float64(v) / amountScale
}

// Resolve computes the payout for a manual dispute outcome. amount is the
// refund for a partial refund and ignored otherwise.
func Resolve(res Resolution, price, amount float64) (Payouts, error) {
	price = round(price)
	switch res {
	case ResolutionFullRefund:
		return Payouts{Mentee: price}, nil
	case ResolutionNoRefund:
		return Payouts{Mentor: price}, nil
	case ResolutionPartialRefund:
		if amount <= 0 || round(amount) > price {
			return Payouts{}, fmt.Errorf("%w: %g not in (0, %g]", ErrInvalidAmount, amount, price)
		}
		refund := round(amount)
		return Payouts{Mentee: refund, Mentor: round(price - refund)}, nil
	}
	return Payouts{}, fmt.Errorf("unknown resolution %q", res)
}

func round(v float64) float64 {
	return math.Round(v*amountScale) / amountScale
}
