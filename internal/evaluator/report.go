package evaluator

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/arbiter/internal/rating"
)

// ResolutionWindowDays is how long a held booking waits for manual review.
const ResolutionWindowDays = 3

// FormatReport renders ev as the markdown report shown to reviewers.
func FormatReport(ev *SessionEvaluation) string {
	var sb strings.Builder

	label := rating.Nearest(ev.QualityRating).Label
	fmt.Fprintf(&sb, "*Session Quality Evaluation*\n\n")
	fmt.Fprintf(&sb, "Rating: %s %.1f/5 (%s)\n\n", rating.Stars(ev.QualityRating), ev.QualityRating, label)

	if len(ev.KeyEvidence) > 0 {
		sb.WriteString("*Key Evidence*\n")
		for _, item := range ev.KeyEvidence {
			fmt.Fprintf(&sb, "• %s\n", item.Text)
		}
		sb.WriteString("\n")
	}

	d := ev.PaymentDistribution
	sb.WriteString("*Payment Distribution*\n")
	fmt.Fprintf(&sb, "• Mentor: %s%%\n", formatNumber(d.Mentor))
	fmt.Fprintf(&sb, "• Mentee: %s%%\n", formatNumber(d.Mentee))
	fmt.Fprintf(&sb, "• Agent: %s%%\n", formatNumber(d.Agent))
	fmt.Fprintf(&sb, "• Platform: %s%%\n\n", formatNumber(d.Platform))

	if ev.Justification != "" {
		fmt.Fprintf(&sb, "*Justification*\n%s\n\n", ev.Justification)
	}

	fmt.Fprintf(&sb, "_Either party may dispute this evaluation within %d days. Unresolved bookings are settled by manual review._", ResolutionWindowDays)
	return sb.String()
}
