package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "pr***@example.com", RedactEmail("priya.sharma@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "pr***@example.com", redactPIIValue("tenant", "priya@example.com"))
	assert.Equal(t, "pr***@example.com", redactPIIValue("user_id", "priya@example.com"))
	assert.Equal(t, "pr***@example.com", redactPIIValue("sender_email", "priya@example.com"))
	assert.Equal(t, "contact pr***@example.com today", redactPIIValue("note", "contact priya@example.com today"))
	assert.Equal(t, "plain value", redactPIIValue("note", "plain value"))
}
