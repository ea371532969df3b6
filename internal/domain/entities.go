package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Review lifecycle for extracted entities. Entities are born draft or
// accepted depending on the confidence gate; humans move them onward.
const (
	StatusDraft     = "draft"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusCompleted = "completed" // tasks only
	StatusWon       = "won"       // deals only
	StatusLost      = "lost"      // deals only
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const (
	StageLead        = "lead"
	StageQualified   = "qualified"
	StageProposal    = "proposal"
	StageNegotiation = "negotiation"
	StageClosed      = "closed"
)

const (
	SourceManual          = "manual"
	SourceEmailExtraction = "email_extraction"
)

const (
	maxTitleLen        = 200
	maxAuditSnippetLen = 500
)

// ValidCurrencies are the ISO codes a deal may carry. Anything else is
// rejected at construction time.
var ValidCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "AUD": true, "INR": true,
}

// Task is an actionable item extracted from an email.
type Task struct {
	ID            string     `json:"id" dynamodbav:"id"`
	UserID        string     `json:"user_id" dynamodbav:"user_id"`
	Title         string     `json:"title" dynamodbav:"title"`
	Description   string     `json:"description" dynamodbav:"description"`
	Status        string     `json:"status" dynamodbav:"status"`
	Priority      string     `json:"priority" dynamodbav:"priority"`
	DueDate       *time.Time `json:"due_date,omitempty" dynamodbav:"due_date,omitempty"`
	Assignee      string     `json:"assignee,omitempty" dynamodbav:"assignee,omitempty"`
	SourceEmailID string     `json:"source_email_id" dynamodbav:"source_email_id"`
	Confidence    float64    `json:"confidence" dynamodbav:"confidence"`
	Agent         string     `json:"agent" dynamodbav:"agent"`
	AuditSnippet  string     `json:"audit_snippet" dynamodbav:"audit_snippet"`
	CreatedAt     string     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt     string     `json:"updated_at" dynamodbav:"updated_at"`
}

// Deal is a revenue opportunity extracted from an email.
type Deal struct {
	ID                string     `json:"id" dynamodbav:"id"`
	UserID            string     `json:"user_id" dynamodbav:"user_id"`
	Title             string     `json:"title" dynamodbav:"title"`
	Description       string     `json:"description" dynamodbav:"description"`
	Value             float64    `json:"value" dynamodbav:"value"`
	Currency          string     `json:"currency" dynamodbav:"currency"`
	Status            string     `json:"status" dynamodbav:"status"`
	Stage             string     `json:"stage" dynamodbav:"stage"`
	Probability       int        `json:"probability" dynamodbav:"probability"`
	ContactID         string     `json:"contact_id,omitempty" dynamodbav:"contact_id,omitempty"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty" dynamodbav:"expected_close_date,omitempty"`
	SourceEmailID     string     `json:"source_email_id" dynamodbav:"source_email_id"`
	Confidence        float64    `json:"confidence" dynamodbav:"confidence"`
	Agent             string     `json:"agent" dynamodbav:"agent"`
	AuditSnippet      string     `json:"audit_snippet" dynamodbav:"audit_snippet"`
	CreatedAt         string     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt         string     `json:"updated_at" dynamodbav:"updated_at"`
}

// Contact is a person record keyed by normalized email address. One contact
// per (tenant, address); repeat senders update LastContactAt instead of
// duplicating.
type Contact struct {
	ID            string `json:"id" dynamodbav:"id"`
	UserID        string `json:"user_id" dynamodbav:"user_id"`
	Email         string `json:"email" dynamodbav:"email"`
	Name          string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Company       string `json:"company,omitempty" dynamodbav:"company,omitempty"`
	LastContactAt string `json:"last_contact_at,omitempty" dynamodbav:"last_contact_at,omitempty"`
	Source        string `json:"source" dynamodbav:"source"`
	CreatedAt     string `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt     string `json:"updated_at" dynamodbav:"updated_at"`
}

// NewTask validates and builds a Task. Status is set by the caller's
// confidence gate, not here; an empty status defaults to draft.
func NewTask(userID, title, description, priority, sourceEmailID, agent, snippet string, confidence float64, dueDate *time.Time, status string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("task confidence %v outside [0,1]", confidence)
	}
	switch priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
	case "":
		priority = PriorityMedium
	default:
		return nil, fmt.Errorf("invalid task priority %q", priority)
	}
	if status == "" {
		status = StatusDraft
	}
	if len(snippet) > maxAuditSnippetLen {
		snippet = snippet[:maxAuditSnippetLen]
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return &Task{
		ID:            uuid.New().String(),
		UserID:        userID,
		Title:         title,
		Description:   description,
		Status:        status,
		Priority:      priority,
		DueDate:       dueDate,
		SourceEmailID: sourceEmailID,
		Confidence:    confidence,
		Agent:         agent,
		AuditSnippet:  snippet,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NewDeal validates and builds a Deal.
func NewDeal(userID, title, description, currency, stage, sourceEmailID, agent, snippet string, value float64, probability int, confidence float64, status string) (*Deal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("deal title is required")
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("deal confidence %v outside [0,1]", confidence)
	}
	if value < 0 {
		return nil, fmt.Errorf("deal value %v is negative", value)
	}
	if probability < 0 || probability > 100 {
		return nil, fmt.Errorf("deal probability %d outside [0,100]", probability)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "INR"
	}
	if !ValidCurrencies[currency] {
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}
	switch stage {
	case StageLead, StageQualified, StageProposal, StageNegotiation, StageClosed:
	case "":
		stage = StageLead
	default:
		return nil, fmt.Errorf("invalid deal stage %q", stage)
	}
	if status == "" {
		status = StatusDraft
	}
	if len(snippet) > maxAuditSnippetLen {
		snippet = snippet[:maxAuditSnippetLen]
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return &Deal{
		ID:            uuid.New().String(),
		UserID:        userID,
		Title:         title,
		Description:   description,
		Value:         value,
		Currency:      currency,
		Status:        status,
		Stage:         stage,
		Probability:   probability,
		SourceEmailID: sourceEmailID,
		Confidence:    confidence,
		Agent:         agent,
		AuditSnippet:  snippet,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NewContact validates and builds a Contact. The address is normalized to
// lowercase so lookups by email stay case-insensitive.
func NewContact(userID, email, name string) (*Contact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid contact email %q", email)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return &Contact{
		ID:            uuid.New().String(),
		UserID:        userID,
		Email:         email,
		Name:          strings.TrimSpace(name),
		LastContactAt: now,
		Source:        SourceEmailExtraction,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
