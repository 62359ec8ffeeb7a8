package analyzer

import (
	"fmt"
	"strings"
	"time"

	"polyarb/internal/models"
)

const systemPrompt = `You are a precise logician analyzing prediction market questions.
You respond with a single JSON object and nothing else. You never guess:
when resolution criteria differ in any way that could split outcomes, you
report the weaker relation and say why.`

const relationRules = `Classify the logical relation between market A and market B using
exactly one of:
  IMPLIES_AB       - if A resolves YES then B must resolve YES
  IMPLIES_BA       - if B resolves YES then A must resolve YES
  EQUIVALENT       - A and B always resolve the same way
  MUTUAL_EXCLUSIVE - A and B cannot both resolve YES
  EXHAUSTIVE       - at least one of A and B must resolve YES
  INDEPENDENT      - none of the above holds with certainty

Rules:
- Judge only what the resolution criteria guarantee, not what is likely.
- Different deadlines break equivalence: a later deadline is implied by
  an earlier one for "reach" questions, never the reverse.
- Different resolution sources or tickers mean resolution_compatible is
  false even if the questions read the same.
- List every edge case where the relation could fail.`

func pairPrompt(a, b models.Market) string {
	var sb strings.Builder
	sb.WriteString(relationRules)
	sb.WriteString("\n\nMarket A:\n")
	writeMarket(&sb, a)
	sb.WriteString("\nMarket B:\n")
	writeMarket(&sb, b)
	sb.WriteString(`
Respond with JSON:
{"relation": "...", "confidence": 0.0, "reasoning": "...",
 "edge_cases": ["..."], "resolution_compatible": true}`)
	return sb.String()
}

func exhaustivePrompt(markets []models.Market) string {
	var sb strings.Builder
	sb.WriteString(`Determine whether the following markets form a complete partition:
exactly one of them must resolve YES, and no outcome is uncovered.

`)
	for i, m := range markets {
		fmt.Fprintf(&sb, "Market %d:\n", i+1)
		writeMarket(&sb, m)
		sb.WriteString("\n")
	}
	sb.WriteString(`Respond with JSON:
{"is_complete": false, "confidence": 0.0, "missing_cases": ["..."]}`)
	return sb.String()
}

func writeMarket(sb *strings.Builder, m models.Market) {
	fmt.Fprintf(sb, "  question: %s\n", m.Question)
	if m.GroupTitle != "" {
		fmt.Fprintf(sb, "  outcome: %s\n", m.GroupTitle)
	}
	if m.EventTitle != "" {
		fmt.Fprintf(sb, "  event: %s\n", m.EventTitle)
	}
	if m.ResolutionSource != "" {
		fmt.Fprintf(sb, "  resolution source: %s\n", m.ResolutionSource)
	}
	if desc := firstNonEmpty(m.Description, m.EventDescription); desc != "" {
		fmt.Fprintf(sb, "  resolution rules: %s\n", truncateText(desc, 600))
	}
	if m.YesMid.IsPositive() || m.NoMid.IsPositive() {
		fmt.Fprintf(sb, "  current prices: YES %s / NO %s\n",
			m.YesMid.StringFixed(3), m.NoMid.StringFixed(3))
	}
	if !m.EndTime.IsZero() {
		fmt.Fprintf(sb, "  resolves by: %s\n", m.EndTime.UTC().Format(time.RFC3339))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncateText(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
