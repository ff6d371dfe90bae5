package evaluator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MikeSquared-Agency/arbiter/internal/rating"
)

// DefaultSumTolerance is how far the four distribution parts may drift from 100.
const DefaultSumTolerance = 0.1

var distributionFields = [...]string{"mentor", "mentee", "agent", "platform"}

// Validator checks a model reply against the SessionEvaluation contract.
type Validator struct {
	strictBands bool
	tolerance   float64
}

type ValidatorOption func(*Validator)

// WithStrictBands also requires the distribution to match the rating scale
// for the returned quality rating.
func WithStrictBands() ValidatorOption {
	return func(v *Validator) { v.strictBands = true }
}

// WithSumTolerance overrides DefaultSumTolerance.
func WithSumTolerance(t float64) ValidatorOption {
	return func(v *Validator) { v.tolerance = t }
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{tolerance: DefaultSumTolerance}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ExtractJSON returns the span from the first '{' to the last '}' in text.
// Prose around the object is ignored.
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// Validate parses raw and checks it field by field. The returned error is a
// *ParseError when raw is not JSON and a *ShapeError for any contract violation.
func (v *Validator) Validate(raw string) (*SessionEvaluation, error) {
	if !gjson.Valid(raw) {
		var decoded any
		err := json.Unmarshal([]byte(raw), &decoded)
		if err == nil {
			err = fmt.Errorf("invalid JSON")
		}
		return nil, &ParseError{Raw: raw, Err: err}
	}

	root := gjson.Parse(raw)
	shapeErr := func(format string, args ...any) error {
		return &ShapeError{Reason: fmt.Sprintf(format, args...), Object: pretty(raw)}
	}

	if !root.IsObject() {
		return nil, shapeErr("top level is not an object")
	}

	qr := root.Get("qualityRating")
	if qr.Type != gjson.Number {
		return nil, shapeErr("qualityRating must be a number")
	}

	pd := root.Get("paymentDistribution")
	if !pd.IsObject() {
		return nil, shapeErr("paymentDistribution must be an object")
	}
	var parts [len(distributionFields)]float64
	for i, field := range distributionFields {
		val := pd.Get(field)
		if val.Type != gjson.Number {
			return nil, shapeErr("paymentDistribution.%s must be a number", field)
		}
		parts[i] = val.Float()
	}

	ke := root.Get("keyEvidence")
	if !ke.IsObject() {
		return nil, shapeErr("keyEvidence must be an object")
	}
	var evidence Evidence
	if err := evidence.UnmarshalJSON([]byte(ke.Raw)); err != nil {
		return nil, shapeErr("%v", err)
	}

	js := root.Get("justification")
	if js.Type != gjson.String {
		return nil, shapeErr("justification must be a string")
	}

	ev := &SessionEvaluation{
		QualityRating: qr.Float(),
		PaymentDistribution: rating.Split{
			Mentor:   parts[0],
			Mentee:   parts[1],
			Agent:    parts[2],
			Platform: parts[3],
		},
		KeyEvidence:   evidence,
		Justification: js.String(),
	}

	if reason := v.checkRanges(ev); reason != "" {
		return nil, shapeErr("%s", reason)
	}
	return ev, nil
}

func (v *Validator) checkRanges(ev *SessionEvaluation) string {
	r := ev.QualityRating
	if r < rating.MinRating || r > rating.MaxRating {
		return fmt.Sprintf("qualityRating %g is outside [0, 5]", r)
	}
	if math.Abs(r*10-math.Round(r*10)) > 1e-6 {
		return fmt.Sprintf("qualityRating %g has more than one decimal place", r)
	}

	d := ev.PaymentDistribution
	for i, part := range [...]float64{d.Mentor, d.Mentee, d.Agent, d.Platform} {
		if part < 0 {
			return fmt.Sprintf("paymentDistribution.%s is negative", distributionFields[i])
		}
	}
	if total := d.Total(); math.Abs(total-100) > v.tolerance {
		return fmt.Sprintf("paymentDistribution sums to %g, want 100", total)
	}

	if v.strictBands {
		want := rating.SplitFor(r)
		if !withinTolerance(d, want, v.tolerance) {
			return fmt.Sprintf("paymentDistribution %+v does not match the scale for rating %.1f (%+v)", d, r, want)
		}
	}
	return ""
}

func withinTolerance(a, b rating.Split, tol float64) bool {
	return math.Abs(a.Mentor-b.Mentor) <= tol &&
		math.Abs(a.Mentee-b.Mentee) <= tol &&
		math.Abs(a.Agent-b.Agent) <= tol &&
		math.Abs(a.Platform-b.Platform) <= tol
}

func pretty(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
