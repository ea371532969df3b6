package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CanonicalMessage is the transport-independent form of an email after MIME
// decoding. Every pipeline stage consumes this shape; nothing downstream of
// the mailbox client ever sees raw RFC 2822 bytes.
type CanonicalMessage struct {
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name,omitempty"`
	Body        string    `json:"body"`
	ReceivedAt  time.Time `json:"received_at"`
	HasAttach   bool      `json:"has_attachments"`
}

// SyntheticMessageID is used when a message carries no Message-ID header.
// Two such messages received in different seconds deduplicate separately.
func SyntheticMessageID(now time.Time) string {
	return fmt.Sprintf("unknown-%d", now.Unix())
}

// Fingerprint returns the 256-bit idempotency key for a message: the hex
// SHA-256 of the provider message ID joined to the decoded body text. The
// same message fetched twice hashes identically; an edited re-send does not.
func Fingerprint(messageID, body string) string {
	sum := sha256.Sum256([]byte(messageID + ":" + body))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the idempotency key for this message.
func (m *CanonicalMessage) Fingerprint() string {
	return Fingerprint(m.MessageID, m.Body)
}

// SenderDomain returns the part of the sender address after the final "@",
// lowercased, or "" when the address has no domain.
func (m *CanonicalMessage) SenderDomain() string {
	i := strings.LastIndex(m.SenderEmail, "@")
	if i < 0 || i == len(m.SenderEmail)-1 {
		return ""
	}
	return strings.ToLower(m.SenderEmail[i+1:])
}

// SenderLocalPart returns the part of the sender address before the "@".
func (m *CanonicalMessage) SenderLocalPart() string {
	i := strings.LastIndex(m.SenderEmail, "@")
	if i <= 0 {
		return m.SenderEmail
	}
	return m.SenderEmail[:i]
}

// InferredSenderName derives a display name from the address local part when
// the From header carried none: dots and underscores become spaces and each
// word is title-cased, so "priya.sharma" becomes "Priya Sharma".
func (m *CanonicalMessage) InferredSenderName() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	local := m.SenderLocalPart()
	if local == "" {
		return ""
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}
