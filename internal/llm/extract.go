package llm

import (
	"context"
	"fmt"
)

// ExtractInput is one prefiltered sales-lead message.
type ExtractInput struct {
	Sender  string
	Subject string
	Content string
}

// TaskCandidate is a task the model proposed, before domain validation.
type TaskCandidate struct {
	Title       string
	Description string
	Priority    string
	DueDate     string // YYYY-MM-DD or empty
	Confidence  float64
	Snippet     string
}

// DealCandidate is a deal the model proposed, before domain validation.
type DealCandidate struct {
	Title       string
	Description string
	Value       float64
	Currency    string
	Stage       string
	Probability int
	Confidence  float64
	Snippet     string
}

// Extraction is the full result of one extraction call.
type Extraction struct {
	Tasks      []TaskCandidate
	Deals      []DealCandidate
	Agent      string
	TokensUsed int
}

const extractSystemPrompt = `You are a business email analyzer. Extract actionable tasks and potential deals from email content.

TASK EXTRACTION RULES:
- Only extract clear, actionable tasks with specific action verbs
- Must be specific enough to be actionable (not vague references)
- Examples: "Send proposal by Friday", "Schedule follow-up call", "Review contract terms"
- Set confidence based on clarity and actionability (0.0-1.0)

DEAL EXTRACTION RULES:
- Only identify potential revenue opportunities with genuine buying interest
- Must indicate monetary value, contract potential, or purchase intent
- Examples: "Interested in ₹50L contract", "Budget approved for ₹25 lakh project", "Ready to purchase for ₹2 crore"
- **IMPORTANT - Deal Value Format:**
  - Convert Indian currency to numeric INR (no symbols, no text)
  - ₹1 Lakh (L) = 100000, ₹1 Crore (Cr) = 10000000
  - Examples: "₹50L" → value: 5000000, "₹1.5 Cr" → value: 15000000, "₹2.5 lakhs" → value: 250000
  - If range given (e.g., "₹50L to ₹1Cr"), use the lower value
  - If multi-year total given (e.g., "₹50L first year, ₹1.5Cr over 3 years"), use first year value
- Currency: Always "INR" for Indian Rupee deals
- Deal stages: lead, contacted, demo, proposal, negotiation, closed_won
- Set confidence based on buying signals strength (0.0-1.0)

OUTPUT REQUIREMENTS:
- Return valid JSON: {"tasks": [{"title", "description", "priority", "due_date", "confidence", "snippet"}], "deals": [{"title", "description", "value", "currency", "stage", "probability", "confidence", "snippet"}]}
- Include specific email snippets for each extraction
- Set realistic confidence scores
- Use empty arrays if no clear tasks/deals found
- Be conservative - false negatives better than false positives

CONFIDENCE SCORING:
- 0.9-1.0: Explicitly stated with clear details
- 0.7-0.8: Strongly implied with good context
- 0.5-0.6: Moderately suggested
- 0.3-0.4: Weakly implied
- 0.0-0.2: Very uncertain

Respond only with valid JSON. No additional text.`

// Extract pulls task and deal candidates from one message. A reply that
// cannot be parsed surfaces as domain.ErrExtractionParse; callers treat that
// as zero candidates rather than a dead message.
func (c *Client) Extract(ctx context.Context, in ExtractInput) (Extraction, error) {
	user := fmt.Sprintf("Analyze this email:\n\nSUBJECT: %s\nFROM: %s\n\nCONTENT:\n%s",
		in.Subject, in.Sender, in.Content)
	content, tokens, err := c.chat(ctx, extractSystemPrompt, user)
	if err != nil {
		return Extraction{Agent: c.model}, err
	}

	obj, err := decodeJSONObject(content)
	if err != nil {
		return Extraction{Agent: c.model, TokensUsed: tokens}, err
	}

	out := Extraction{Agent: c.model, TokensUsed: tokens}
	for _, raw := range getList(obj, "tasks") {
		if m, ok := raw.(map[string]any); ok {
			out.Tasks = append(out.Tasks, normalizeTask(m))
		}
	}
	for _, raw := range getList(obj, "deals") {
		if m, ok := raw.(map[string]any); ok {
			out.Deals = append(out.Deals, normalizeDeal(m))
		}
	}
	return out, nil
}
