package llm

import (
	"strconv"
	"strings"

	"github.com/smile-crm/sales-funnel/internal/domain"
)

// Liberal parsing of model output: field-name aliases, defaults for absent
// fields, clamped numeric ranges. Smaller models drift from the schema in
// predictable ways and each drift here used to be a lost extraction.

// normalizeTask builds a TaskCandidate from a loosely-shaped object. Title
// falls back through task/title/text/snippet.
func normalizeTask(m map[string]any) TaskCandidate {
	title := firstString(m, "task", "title", "text", "snippet")
	if title == "" {
		title = "Unknown task"
	}
	description := firstString(m, "description", "snippet", "text")
	if description == "" {
		description = title
	}
	snippet := firstString(m, "snippet", "text")
	if snippet == "" {
		snippet = title
	}
	return TaskCandidate{
		Title:       title,
		Description: description,
		Priority:    normalizePriority(getString(m, "priority")),
		DueDate:     getString(m, "due_date"),
		Confidence:  clamp01(getFloat(m, "confidence", 0.5)),
		Snippet:     snippet,
	}
}

// normalizeDeal builds a DealCandidate from a loosely-shaped object.
func normalizeDeal(m map[string]any) DealCandidate {
	title := firstString(m, "title", "text", "snippet")
	if title == "" {
		title = "Unknown deal"
	}
	description := firstString(m, "description", "snippet", "text")
	if description == "" {
		description = title
	}
	snippet := firstString(m, "snippet", "text")
	if snippet == "" {
		snippet = title
	}
	currency := strings.ToUpper(strings.TrimSpace(getString(m, "currency")))
	if currency == "" {
		currency = "INR"
	}
	return DealCandidate{
		Title:       title,
		Description: description,
		Value:       ParseMoney(m["value"]),
		Currency:    currency,
		Stage:       normalizeStage(getString(m, "stage")),
		Probability: clampProbability(getFloat(m, "probability", 50)),
		Confidence:  clamp01(getFloat(m, "confidence", 0.5)),
		Snippet:     snippet,
	}
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high", "urgent", "critical":
		return domain.PriorityHigh
	case "low":
		return domain.PriorityLow
	default:
		return domain.PriorityMedium
	}
}

// normalizeStage maps the stage vocabulary the prompt allows (and the
// variants models actually emit) onto the domain's pipeline stages.
func normalizeStage(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "contacted", "demo", "qualified":
		return domain.StageQualified
	case "proposal":
		return domain.StageProposal
	case "negotiation":
		return domain.StageNegotiation
	case "closed", "closed_won", "closed_lost", "won", "lost":
		return domain.StageClosed
	default:
		return domain.StageLead
	}
}

// ParseMoney reads a deal value that may arrive as a number or as Indian
// currency shorthand ("₹50L", "1.5 Cr", "2,50,000"). Ranges resolve to the
// low end. Unreadable or negative values become 0.
func ParseMoney(v any) float64 {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0
		}
		return n
	case int:
		if n < 0 {
			return 0
		}
		return float64(n)
	case string:
		return parseMoneyString(n)
	default:
		return 0
	}
}

func parseMoneyString(s string) float64 {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	// A range resolves to its lower bound. A bare low bound inherits the
	// unit trailing the range: "1-2 lakh" means one lakh, not one rupee.
	low := s
	for _, sep := range []string{" to ", "–", "-"} {
		if i := strings.Index(s, sep); i > 0 {
			low = s[:i]
			break
		}
	}
	multiplier := unitMultiplier(low)
	if multiplier == 1 {
		multiplier = unitMultiplier(s)
	}

	var numeric strings.Builder
	for _, r := range low {
		if (r >= '0' && r <= '9') || r == '.' {
			numeric.WriteRune(r)
		}
	}
	n, err := strconv.ParseFloat(numeric.String(), 64)
	if err != nil || n < 0 {
		return 0
	}
	return n * multiplier
}

func unitMultiplier(s string) float64 {
	switch {
	case strings.Contains(s, "crore") || strings.Contains(s, "cr"):
		return 1e7
	case strings.Contains(s, "lakh") || strings.Contains(s, "lac") || strings.HasSuffix(strings.TrimSpace(s), "l"):
		return 1e5
	case strings.Contains(s, "k"):
		return 1e3
	}
	return 1
}

func clampProbability(p float64) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := getString(m, k); v != "" {
			return v
		}
	}
	return ""
}

func getFloat(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getList(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}
