package evaluator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/MikeSquared-Agency/arbiter/internal/rating"
)

// SpeakerBreakdown is the share of talk time per side, in percent.
// The two values are taken as given and need not sum to 100.
type SpeakerBreakdown struct {
	InstructorPct float64 `json:"instructor" validate:"gte=0,lte=100"`
	StudentPct    float64 `json:"student" validate:"gte=0,lte=100"`
}

// Metric is a named engagement measurement. Value is a number or a string.
type Metric struct {
	Name  string `json:"name" validate:"required"`
	Value any    `json:"value"`
}

// SessionMetrics is everything the evaluator knows about one session.
type SessionMetrics struct {
	Transcript       string           `json:"transcript" validate:"required"`
	Duration         string           `json:"duration"`
	Speakers         SpeakerBreakdown `json:"speakerBreakdown"`
	Engagement       []Metric         `json:"engagementMetrics" validate:"dive"`
	QualityScoreHint float64          `json:"qualityScore" validate:"gte=0,lte=10"`
	Highlights       []string         `json:"sessionHighlights"`
	Concerns         []string         `json:"sessionConcerns"`
}

// SessionEvaluation is a validated model verdict for one session.
type SessionEvaluation struct {
	QualityRating       float64      `json:"qualityRating"`
	PaymentDistribution rating.Split `json:"paymentDistribution"`
	KeyEvidence         Evidence     `json:"keyEvidence"`
	Justification       string       `json:"justification"`
}

// EvidenceItem is one cited quote or metric.
type EvidenceItem struct {
	Key  string
	Text string
}

// Evidence keeps key evidence in the order the model emitted it. It encodes
// as a JSON object.
type Evidence []EvidenceItem

func (e Evidence) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(item.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(item.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Evidence) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		*e = nil
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("keyEvidence must be an object")
	}
	var out Evidence
	var bad string
	res.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			bad = key.String()
			return false
		}
		out = append(out, EvidenceItem{Key: key.String(), Text: value.String()})
		return true
	})
	if bad != "" {
		return fmt.Errorf("keyEvidence.%s must be a string", bad)
	}
	*e = out
	return nil
}
