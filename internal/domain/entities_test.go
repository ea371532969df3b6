package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskDefaults(t *testing.T) {
	task, err := NewTask("user@example.com", "  Follow up with Acme  ", "Call them back", "", "abc123", "mistral", "snippet", 0.9, nil, "")
	assert.NoError(t, err)
	assert.Equal(t, "Follow up with Acme", task.Title)
	assert.Equal(t, StatusDraft, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

func TestNewTaskValidation(t *testing.T) {
	_, err := NewTask("u", "   ", "d", PriorityHigh, "src", "agent", "", 0.5, nil, "")
	assert.Error(t, err)

	_, err = NewTask("u", "title", "d", PriorityHigh, "src", "agent", "", 1.2, nil, "")
	assert.Error(t, err)

	_, err = NewTask("u", "title", "d", "critical", "src", "agent", "", 0.5, nil, "")
	assert.Error(t, err)
}

func TestNewTaskClipsTitleAndSnippet(t *testing.T) {
	long := strings.Repeat("x", 600)
	task, err := NewTask("u", long, "d", PriorityLow, "src", "agent", long, 0.5, nil, StatusAccepted)
	assert.NoError(t, err)
	assert.Len(t, task.Title, 200)
	assert.Len(t, task.AuditSnippet, 500)
	assert.Equal(t, StatusAccepted, task.Status)
}

func TestNewDealDefaults(t *testing.T) {
	deal, err := NewDeal("u", "CRM rollout", "50 seats", "", "", "src", "mistral", "snip", 1500000, 50, 0.85, "")
	assert.NoError(t, err)
	assert.Equal(t, "INR", deal.Currency)
	assert.Equal(t, StageLead, deal.Stage)
	assert.Equal(t, StatusDraft, deal.Status)
	assert.Equal(t, float64(1500000), deal.Value)
}

func TestNewDealValidation(t *testing.T) {
	_, err := NewDeal("u", "d", "x", "BTC", StageLead, "src", "a", "", 10, 50, 0.5, "")
	assert.Error(t, err)

	_, err = NewDeal("u", "d", "x", "INR", "imaginary", "src", "a", "", 10, 50, 0.5, "")
	assert.Error(t, err)

	_, err = NewDeal("u", "d", "x", "INR", StageLead, "src", "a", "", -1, 50, 0.5, "")
	assert.Error(t, err)

	_, err = NewDeal("u", "d", "x", "INR", StageLead, "src", "a", "", 10, 101, 0.5, "")
	assert.Error(t, err)

	deal, err := NewDeal("u", "d", "x", "usd", StageQualified, "src", "a", "", 10, 0, 0.5, "")
	assert.NoError(t, err)
	assert.Equal(t, "USD", deal.Currency)
}

func TestNewContactNormalizesEmail(t *testing.T) {
	c, err := NewContact("u", "  Priya.Sharma@Example.COM ", "Priya Sharma")
	assert.NoError(t, err)
	assert.Equal(t, "priya.sharma@example.com", c.Email)
	assert.Equal(t, SourceEmailExtraction, c.Source)

	_, err = NewContact("u", "not-an-address", "")
	assert.Error(t, err)
}

func TestNewEmailLogTTL(t *testing.T) {
	log := NewEmailLog("hash", "msg-1", "u", "subject", "Sender@Example.com", 90)
	expected := time.Now().UTC().AddDate(0, 0, 90).Unix()
	assert.InDelta(t, expected, log.TTL, 5)
	assert.Equal(t, "sender@example.com", log.SenderEmail)
	assert.Equal(t, ProcessingProcessed, log.Status)
	assert.NotNil(t, log.TasksCreated)
	assert.NotNil(t, log.DealsCreated)

	clipped := NewEmailLog("h", "m", "u", strings.Repeat("s", 900), "a@b.c", 0)
	assert.Len(t, clipped.Subject, 500)
	assert.InDelta(t, time.Now().UTC().AddDate(0, 0, DefaultIdempotencyTTLDays).Unix(), clipped.TTL, 5)
}
