// Package rating holds the fixed quality-rating scale that maps a session's
// 0.0-5.0 rating to a four-way split of the booking price.
package rating

import (
	"fmt"
	"math"
	"strings"
)

// Split is a percentage split of a booking price. The four parts sum to 100.
type Split struct {
	Mentor   float64 `json:"mentor"`
	Mentee   float64 `json:"mentee"`
	Agent    float64 `json:"agent"`
	Platform float64 `json:"platform"`
}

// Total returns the sum of the four parts.
func (s Split) Total() float64 {
	return s.Mentor + s.Mentee + s.Agent + s.Platform
}

// Band is one row of the rating scale.
type Band struct {
	Rating float64 `json:"rating"`
	Label  string  `json:"label"`
	Split  Split   `json:"split"`
}

const (
	MinRating = 0.0
	MaxRating = 5.0
)

// bands is ordered by descending rating. The floor band doubles the agent
// and platform share; every other band takes a flat 2.5 each.
var bands = [...]Band{
	{Rating: 5.0, Label: "Exceptional", Split: Split{Mentor: 90, Mentee: 5, Agent: 2.5, Platform: 2.5}},
	{Rating: 4.0, Label: "Very Good", Split: Split{Mentor: 70, Mentee: 25, Agent: 2.5, Platform: 2.5}},
	{Rating: 3.0, Label: "Satisfactory", Split: Split{Mentor: 50, Mentee: 45, Agent: 2.5, Platform: 2.5}},
	{Rating: 2.0, Label: "Substandard", Split: Split{Mentor: 30, Mentee: 65, Agent: 2.5, Platform: 2.5}},
	{Rating: 1.0, Label: "Poor", Split: Split{Mentor: 10, Mentee: 85, Agent: 2.5, Platform: 2.5}},
	{Rating: 0.0, Label: "Unacceptable", Split: Split{Mentor: 0, Mentee: 90, Agent: 5, Platform: 5}},
}

// Bands returns a copy of the scale, highest rating first.
func Bands() []Band {
	out := make([]Band, len(bands))
	copy(out[:], bands[:])
	return out
}

// BandFor returns the band for a canonical rating (0.0, 1.0, ... 5.0).
func BandFor(r float64) (Band, bool) {
	for _, b := range bands {
		if b.Rating == r {
			return b, true
		}
	}
	return Band{}, false
}

// Nearest returns the band closest to r. Ties round up.
func Nearest(r float64) Band {
	idx := int(math.Floor(clamp(r) + 0.5))
	return bands[len(bands)-1-idx]
}

// SplitFor returns the split for any rating in [0, 5]. Canonical ratings map
// to their band; ratings between two bands are interpolated linearly, so
// every result still sums to 100.
func SplitFor(r float64) Split {
	r = clamp(r)
	lo := math.Floor(r)
	if lo == r {
		b, _ := BandFor(r)
		return b.Split
	}
	low, _ := BandFor(lo)
	high, _ := BandFor(lo + 1)
	f := r - lo
	return Split{
		Mentor:   lerp(low.Split.Mentor, high.Split.Mentor, f),
		Mentee:   lerp(low.Split.Mentee, high.Split.Mentee, f),
		Agent:    lerp(low.Split.Agent, high.Split.Agent, f),
		Platform: lerp(low.Split.Platform, high.Split.Platform, f),
	}
}

// Stars renders the whole-star part of a rating, e.g. 4.7 -> ★★★★☆.
func Stars(r float64) string {
	full := int(math.Floor(clamp(r)))
	return strings.Repeat("★", full) + strings.Repeat("☆", int(MaxRating)-full)
}

// RubricLines renders one line per band for the evaluation prompt.
func RubricLines() []string {
	lines := make([]string, 0, len(bands))
	for _, b := range bands {
		lines = append(lines, fmt.Sprintf("%.1f %s (%s) = Mentor: %s%%, Mentee: %s%%, Agent: %s%%, Platform: %s%%",
			b.Rating, Stars(b.Rating), b.Label,
			pct(b.Split.Mentor), pct(b.Split.Mentee), pct(b.Split.Agent), pct(b.Split.Platform)))
	}
	return lines
}

func pct(v float64) string {
	return fmt.Sprintf("%g", v)
}

func lerp(a, b, f float64) float64 {
	return a + (b-a)*f
}

func clamp(r float64) float64 {
	if r < MinRating {
		return MinRating
	}
	if r > MaxRating {
		return MaxRating
	}
	return r
}
