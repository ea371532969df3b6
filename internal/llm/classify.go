package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

// Classification categories. Only sales leads proceed to extraction.
const (
	CategorySalesLead          = "sales_lead"
	CategoryInternalOperations = "internal_operations"
	CategorySpamNoise          = "spam_noise"
	CategoryCustomerSupport    = "customer_support"
	CategoryUnknown            = "unknown"
)

// classifyPreviewLen is how much body text the classifier sees. Category is
// decidable from the opening of a message; the full text goes to extraction
// only.
const classifyPreviewLen = 1000

// ClassifyInput is one message to categorize.
type ClassifyInput struct {
	Sender  string
	Subject string
	Content string
}

// Classification is the model's verdict on one message.
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	TokensUsed int     `json:"-"`
}

const classifySystemPrompt = `You are an expert email classifier for a sales CRM system.

Your job is to classify incoming emails into one of these categories:

1. **sales_lead**: External prospects/customers inquiring about products, services, pricing, partnerships, proposals, or business opportunities. These are potential revenue-generating conversations.

2. **internal_operations**: Emails from colleagues within the same organization about internal tasks, operations, development work (like pull requests), API integrations, internal processes, or administrative matters.

3. **spam_noise**: Marketing emails, newsletters, automated notifications, unsubscribe confirmations, or irrelevant messages.

4. **customer_support**: Existing customers with issues, complaints, or support requests (not new sales opportunities).

Classification Rules:
- If sender domain matches recipient domain → likely internal_operations
- If email is from development tools (Bitbucket, GitHub, JIRA) → internal_operations
- If email discusses internal processes, APIs, software bugs, deployments → internal_operations
- If email is from unknown external party inquiring about services/pricing → sales_lead
- If email discusses deals, contracts, partnerships with external parties → sales_lead
- If existing customer has a problem or complaint → customer_support
- If automated notification or marketing → spam_noise

Respond with a JSON object: {"category": "...", "confidence": 0.0-1.0, "reasoning": "brief explanation"}`

const classifyBatchSystemPrompt = `You are an expert email classifier for a sales CRM system. Classify MULTIPLE emails in one pass.

Categories: sales_lead (external prospect with revenue potential), internal_operations (colleagues, dev tools, internal process), spam_noise (marketing, newsletters, automated noise), customer_support (existing customer with a problem).

Return a JSON object keyed by email id:
{
  "email_1": {"category": "...", "confidence": 0.0-1.0, "reasoning": "..."},
  "email_2": {...}
}

Respond only with valid JSON in that format.`

var validCategories = map[string]bool{
	CategorySalesLead:          true,
	CategoryInternalOperations: true,
	CategorySpamNoise:          true,
	CategoryCustomerSupport:    true,
}

// Classify categorizes one message.
func (c *Client) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	user := fmt.Sprintf("Classify this email:\n\n**From:** %s\n**Subject:** %s\n**Content Preview:** %s",
		in.Sender, in.Subject, preview(in.Content))
	content, tokens, err := c.chat(ctx, classifySystemPrompt, user)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %w", err, domain.ErrClassifier)
	}
	obj, err := decodeJSONObject(content)
	if err != nil {
		return Classification{}, fmt.Errorf("classification reply unparseable: %w", domain.ErrClassifier)
	}
	verdict := parseClassification(obj)
	verdict.TokensUsed = tokens
	return verdict, nil
}

// ClassifyBatch categorizes several messages in one completion. The result
// slice is index-aligned with the input; a message the model skipped comes
// back as unknown with zero confidence.
func (c *Client) ClassifyBatch(ctx context.Context, in []ClassifyInput) ([]Classification, error) {
	if len(in) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for i, msg := range in {
		fmt.Fprintf(&b, "EMAIL %d (ID: email_%d):\nFROM: %s\nSUBJECT: %s\nCONTENT:\n%s\n\n---\n",
			i+1, i+1, msg.Sender, msg.Subject, preview(msg.Content))
	}

	content, tokens, err := c.chat(ctx, classifyBatchSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, domain.ErrClassifier)
	}
	obj, err := decodeJSONObject(content)
	if err != nil {
		return nil, fmt.Errorf("batch classification reply unparseable: %w", domain.ErrClassifier)
	}

	out := make([]Classification, len(in))
	perMessage := tokens / len(in)
	for i := range in {
		entry, ok := obj[fmt.Sprintf("email_%d", i+1)].(map[string]any)
		if !ok {
			logger.Warn("batch classification missing entry", "index", fmt.Sprint(i+1))
			out[i] = Classification{Category: CategoryUnknown}
			continue
		}
		out[i] = parseClassification(entry)
		out[i].TokensUsed = perMessage
	}
	return out, nil
}

// parseClassification reads a verdict object liberally: unknown categories
// collapse to unknown, confidence is clamped to [0,1].
func parseClassification(obj map[string]any) Classification {
	category := strings.ToLower(strings.TrimSpace(getString(obj, "category")))
	if !validCategories[category] {
		category = CategoryUnknown
	}
	return Classification{
		Category:   category,
		Confidence: clamp01(getFloat(obj, "confidence", 0)),
		Reasoning:  getString(obj, "reasoning"),
	}
}

func preview(content string) string {
	if len(content) > classifyPreviewLen {
		return content[:classifyPreviewLen]
	}
	return content
}
