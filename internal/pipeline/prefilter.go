package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/smile-crm/sales-funnel/internal/domain"
)

const (
	minContentLength     = 20
	defaultMaxContentLen = 5000
	// Truncation needs room for a 60% head, the marker, and a 20% tail.
	minMaxContentLen = 160
	truncationMarker     = "\n\n[... content truncated ...]\n\n"

	// Below this business-relevance score a message is not worth an
	// extraction call.
	minBusinessScore = 0.05
	maxCapsRatio     = 0.5
)

var spamRe = regexp.MustCompile(`(?i)\b(unsubscribe|opt[-\s]?out)\b|\b(lottery|winner|congratulations)\b|\b(viagra|cialis|pharmacy)\b|\b(nigerian prince|inheritance)\b`)

var businessRe = regexp.MustCompile(`(?i)\b(proposal|quote|contract|agreement|deal|partnership|meeting|call|schedule|follow up|followup|project|requirements|budget|timeline|deadline|client|customer|vendor|supplier|service|purchase|order|invoice|payment|pricing|logistics|transport|shipping|delivery|freight|looking for|inquiry|request|need|require)\b`)

// priorityDomains get a small relevance bonus: mail from personal providers
// is more often a genuine human inquiry than mail from automated senders.
var priorityDomains = []string{"gmail.com", "outlook.com", "yahoo.com"}

// Prefilter cheaply rejects messages that should never reach extraction.
type Prefilter struct {
	maxContentLen int
}

func NewPrefilter(maxContentLen int) *Prefilter {
	if maxContentLen <= 0 {
		maxContentLen = defaultMaxContentLen
	}
	if maxContentLen < minMaxContentLen {
		maxContentLen = minMaxContentLen
	}
	return &Prefilter{maxContentLen: maxContentLen}
}

// PrefilterOutcome is the verdict plus the (possibly truncated) body that
// extraction should see.
type PrefilterOutcome struct {
	Result        string // domain.Prefilter*
	Reason        string
	Content       string
	BusinessScore float64
}

func (o PrefilterOutcome) Passed() bool { return o.Result == domain.PrefilterPassed }

// Process applies length, spam, and relevance checks in order of cost.
func (p *Prefilter) Process(msg *domain.CanonicalMessage) PrefilterOutcome {
	content := msg.Body

	if len(content) < minContentLength {
		return PrefilterOutcome{Result: domain.PrefilterFilteredOut, Reason: "too_short"}
	}
	if isSpam(content, msg.Subject) {
		return PrefilterOutcome{Result: domain.PrefilterFilteredOut, Reason: "spam_pattern"}
	}

	if len(content) > p.maxContentLen {
		content = p.smartTruncate(content)
		if len(content) > p.maxContentLen {
			return PrefilterOutcome{Result: domain.PrefilterTooLarge, Reason: "too_large"}
		}
	}

	score := businessScore(msg, content)
	if score < minBusinessScore {
		return PrefilterOutcome{Result: domain.PrefilterFilteredOut, Reason: "low_business_score", BusinessScore: score}
	}

	return PrefilterOutcome{Result: domain.PrefilterPassed, Content: content, BusinessScore: score}
}

func isSpam(content, subject string) bool {
	if spamRe.MatchString(content) || spamRe.MatchString(subject) {
		return true
	}

	letters, upper := 0, 0
	for _, r := range content {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters > 0 && float64(upper)/float64(letters) > maxCapsRatio
}

// businessScore estimates sales relevance in [0,1]: keyword density in body
// (max 0.5) and subject (max 0.3), plus bonuses for a personal sender domain
// and an attachment.
func businessScore(msg *domain.CanonicalMessage, content string) float64 {
	score := 0.0

	contentMatches := len(businessRe.FindAllStringIndex(content, -1))
	score += min(float64(contentMatches)*0.1, 0.5)

	subjectMatches := len(businessRe.FindAllStringIndex(msg.Subject, -1))
	score += min(float64(subjectMatches)*0.2, 0.3)

	sender := strings.ToLower(msg.SenderEmail)
	for _, d := range priorityDomains {
		if strings.Contains(sender, d) {
			score += 0.1
			break
		}
	}

	if msg.HasAttach {
		score += 0.1
	}

	return min(score, 1.0)
}

// smartTruncate keeps the head and tail of an over-long body: greetings and
// asks cluster at the start, signatures and deadlines at the end.
func (p *Prefilter) smartTruncate(content string) string {
	if len(content) <= p.maxContentLen {
		return content
	}

	head := content[:p.maxContentLen*6/10]
	tail := content[len(content)-p.maxContentLen*2/10:]

	truncated := head + truncationMarker + tail
	if len(truncated) > p.maxContentLen {
		return content[:p.maxContentLen-20] + "\n[... truncated]"
	}
	return truncated
}
