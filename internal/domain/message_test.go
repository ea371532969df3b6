package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("msg-1", "hello world")
	b := Fingerprint("msg-1", "hello world")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("msg-1", "hello world")
	assert.NotEqual(t, base, Fingerprint("msg-2", "hello world"))
	assert.NotEqual(t, base, Fingerprint("msg-1", "hello world."))
	// separator keeps id/content boundary unambiguous
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestSyntheticMessageID(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "unknown-1740823200", SyntheticMessageID(ts))
}

func TestSenderHelpers(t *testing.T) {
	m := CanonicalMessage{SenderEmail: "priya.sharma@Example.com"}
	assert.Equal(t, "example.com", m.SenderDomain())
	assert.Equal(t, "priya.sharma", m.SenderLocalPart())
	assert.Equal(t, "Priya Sharma", m.InferredSenderName())

	named := CanonicalMessage{SenderEmail: "x@y.com", SenderName: "Given Name"}
	assert.Equal(t, "Given Name", named.InferredSenderName())

	bare := CanonicalMessage{SenderEmail: "nodomain"}
	assert.Equal(t, "", bare.SenderDomain())
	assert.Equal(t, "nodomain", bare.SenderLocalPart())
}
