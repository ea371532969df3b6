package logger

import "strings"

// RedactEmail masks an address for logging. Tenant IDs here are email
// addresses, so they show up in almost every log line.
// "priya.shah@example.com" → "pr***@example.com"; a local part of two
// characters or fewer is masked entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
