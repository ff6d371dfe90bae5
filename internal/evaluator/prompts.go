package evaluator

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/arbiter/internal/rating"
)

const evaluationPrompt = `You are a session quality assessment system. Your task is to evaluate a tutoring session and return ONLY a JSON object in the exact format specified below.

Input Analysis:
%s
Rating Scale and Distribution:
%s

IMPORTANT: You must return ONLY a JSON object with the following requirements:

1. qualityRating: number between 0 and 5, with exactly one decimal place
2. paymentDistribution: object with exactly these numeric fields:
   - mentor: number (percentage)
   - mentee: number (percentage)
   - agent: number (always 2.5 for ratings 1-5, 5 for rating 0)
   - platform: number (always 2.5 for ratings 1-5, 5 for rating 0)
   The four values must add up to 100.
3. keyEvidence: object with exactly these string fields:
   - evidence1: string (quote or metric)
   - evidence2: string (quote or metric)
   - evidence3: string (quote or metric)
4. justification: string (about 480 words)

Return your evaluation in this exact format, with no additional text or explanation:

%s

DO NOT include any other text, markdown, or explanation outside of this JSON structure.`

const outputTemplate = `{
  "qualityRating": 0.0,
  "paymentDistribution": {
    "mentor": 0,
    "mentee": 0,
    "agent": 2.5,
    "platform": 2.5
  },
  "keyEvidence": {
    "evidence1": "First key evidence with quote or metric",
    "evidence2": "Second key evidence with quote or metric",
    "evidence3": "Third key evidence with quote or metric"
  },
  "justification": "Your 480-word justification here"
}`

// BuildPrompt composes the full evaluation prompt for m.
func BuildPrompt(m SessionMetrics) string {
	return fmt.Sprintf(evaluationPrompt, RenderMetrics(m), strings.Join(rating.RubricLines(), "\n"), outputTemplate)
}
