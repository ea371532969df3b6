package domain

import (
	"strings"
	"time"
)

// Processing outcomes recorded per message.
const (
	ProcessingProcessed = "processed"
	ProcessingFailed    = "failed"
	ProcessingSkipped   = "skipped"
)

// Prefilter outcomes recorded alongside the processing status.
const (
	PrefilterPassed      = "passed"
	PrefilterFilteredOut = "filtered_out"
	PrefilterTooLarge    = "too_large"
)

const maxLogSubjectLen = 500

// DefaultIdempotencyTTLDays is how long processed-markers live before
// DynamoDB expires them. A message older than this window may be processed
// again, which is acceptable because mailbox queries never reach that far
// back.
const DefaultIdempotencyTTLDays = 90

// EmailLog is the per-message idempotency record and audit trail. Its
// primary key is the content fingerprint, so a second sighting of the same
// message is a single GetItem away from being skipped.
type EmailLog struct {
	MessageIDHash     string   `json:"message_id_hash" dynamodbav:"message_id_hash"`
	OriginalMessageID string   `json:"original_message_id" dynamodbav:"original_message_id"`
	UserID            string   `json:"user_id" dynamodbav:"user_id"`
	Subject           string   `json:"subject" dynamodbav:"subject"`
	SenderEmail       string   `json:"sender_email" dynamodbav:"sender_email"`
	ProcessedAt       string   `json:"processed_at" dynamodbav:"processed_at"`
	Status            string   `json:"status" dynamodbav:"status"`
	PrefilterResult   string   `json:"prefilter_result" dynamodbav:"prefilter_result"`
	Classification    string   `json:"classification,omitempty" dynamodbav:"classification,omitempty"`
	TasksCreated      []string `json:"tasks_created" dynamodbav:"tasks_created"`
	DealsCreated      []string `json:"deals_created" dynamodbav:"deals_created"`
	LLMTokensUsed     int      `json:"llm_tokens_used" dynamodbav:"llm_tokens_used"`
	ProcessingTimeMS  int64    `json:"processing_time_ms" dynamodbav:"processing_time_ms"`
	TTL               int64    `json:"ttl" dynamodbav:"ttl"`
}

// NewEmailLog builds a log entry with the TTL set ttlDays out. Subject is
// clipped rather than rejected; the full text already lives in the audit
// snippets of the entities it produced.
func NewEmailLog(hash, messageID, userID, subject, sender string, ttlDays int) *EmailLog {
	if ttlDays <= 0 {
		ttlDays = DefaultIdempotencyTTLDays
	}
	if len(subject) > maxLogSubjectLen {
		subject = subject[:maxLogSubjectLen]
	}
	now := time.Now().UTC()
	return &EmailLog{
		MessageIDHash:     hash,
		OriginalMessageID: messageID,
		UserID:            userID,
		Subject:           subject,
		SenderEmail:       strings.ToLower(sender),
		ProcessedAt:       now.Format(time.RFC3339),
		Status:            ProcessingProcessed,
		TasksCreated:      []string{},
		DealsCreated:      []string{},
		TTL:               now.AddDate(0, 0, ttlDays).Unix(),
	}
}
