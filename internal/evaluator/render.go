package evaluator

import (
	"fmt"
	"strconv"
	"strings"
)

// RenderMetrics renders m as the plain-text input block of the prompt.
// Empty optional fields are left out rather than shown blank, and the output
// depends only on m.
func RenderMetrics(m SessionMetrics) string {
	var sb strings.Builder

	if m.Duration != "" {
		fmt.Fprintf(&sb, "Duration: %s\n", m.Duration)
	}
	fmt.Fprintf(&sb, "Speaker Breakdown: Instructor %s%%, Student %s%%\n",
		formatNumber(m.Speakers.InstructorPct), formatNumber(m.Speakers.StudentPct))
	fmt.Fprintf(&sb, "Quality Score: %s/10\n", formatNumber(m.QualityScoreHint))

	if len(m.Engagement) > 0 {
		sb.WriteString("\nEngagement Metrics:\n")
		for _, metric := range m.Engagement {
			fmt.Fprintf(&sb, "%s: %s\n", metric.Name, formatValue(metric.Value))
		}
	}

	writeList(&sb, "Session Highlights", m.Highlights)
	writeList(&sb, "Session Concerns", m.Concerns)

	fmt.Fprintf(&sb, "\nTranscript:\n%s\n", m.Transcript)
	return sb.String()
}

func writeList(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", heading)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return formatNumber(val)
	case float32:
		return formatNumber(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
