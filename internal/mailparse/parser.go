// Package mailparse decodes raw RFC 2822 messages into the canonical form
// the pipeline consumes. Nothing downstream of this package sees MIME.
package mailparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/smile-crm/sales-funnel/internal/domain"
)

// Parse decodes a raw message into a CanonicalMessage. A message with no
// Message-ID gets a synthetic one so the fingerprint stays well defined.
// Body preference: first text/plain part wins; an HTML-only message is
// stripped to text.
func Parse(raw []byte) (*domain.CanonicalMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reading message headers: %w", err)
	}

	dec := &mime.WordDecoder{}
	subject := msg.Header.Get("Subject")
	if decoded, err := dec.DecodeHeader(subject); err == nil {
		subject = decoded
	}

	senderEmail, senderName := parseFrom(msg.Header.Get("From"), dec)

	messageID := strings.Trim(strings.TrimSpace(msg.Header.Get("Message-ID")), "<>")
	if messageID == "" {
		messageID = domain.SyntheticMessageID(time.Now().UTC())
	}

	receivedAt, err := msg.Header.Date()
	if err != nil {
		receivedAt = time.Now().UTC()
	}

	body, hasAttach, err := extractBody(msg)
	if err != nil {
		return nil, err
	}

	return &domain.CanonicalMessage{
		MessageID:   messageID,
		Subject:     subject,
		SenderEmail: senderEmail,
		SenderName:  senderName,
		Body:        body,
		ReceivedAt:  receivedAt.UTC(),
		HasAttach:   hasAttach,
	}, nil
}

func parseFrom(from string, dec *mime.WordDecoder) (email, name string) {
	if decoded, err := dec.DecodeHeader(from); err == nil {
		from = decoded
	}
	addr, err := mail.ParseAddress(from)
	if err == nil {
		return strings.ToLower(addr.Address), strings.TrimSpace(addr.Name)
	}
	// Malformed From header: scrape anything address-shaped out of it.
	for _, tok := range strings.Fields(from) {
		if strings.Contains(tok, "@") {
			return strings.ToLower(strings.Trim(tok, "<>\"'")), ""
		}
	}
	return strings.ToLower(strings.TrimSpace(from)), ""
}

// extractBody walks the MIME structure collecting every text/plain part,
// joined by blank lines. When none exists the first text/html part is
// stripped to text instead.
func extractBody(msg *mail.Message) (body string, hasAttach bool, err error) {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	var plains []string
	var firstHTML string

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", false, fmt.Errorf("multipart message without boundary")
		}
		hasAttach, err = walkParts(multipart.NewReader(msg.Body, boundary), &plains, &firstHTML)
		if err != nil {
			return "", false, err
		}
	} else {
		data, err := decodePart(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return "", false, err
		}
		switch {
		case strings.HasPrefix(mediaType, "text/html"):
			firstHTML = data
		default:
			plains = append(plains, data)
		}
	}

	if len(plains) > 0 {
		return strings.TrimSpace(strings.Join(plains, "\n\n")), hasAttach, nil
	}
	if firstHTML != "" {
		return StripHTML(firstHTML), hasAttach, nil
	}
	return "", hasAttach, nil
}

func walkParts(mr *multipart.Reader, plains *[]string, firstHTML *string) (hasAttach bool, err error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return hasAttach, nil
		}
		if err != nil {
			return hasAttach, fmt.Errorf("reading MIME part: %w", err)
		}

		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if disposition == "attachment" {
			hasAttach = true
			continue
		}

		partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = "text/plain"
		}

		switch {
		case strings.HasPrefix(partType, "multipart/"):
			nested, err := walkParts(multipart.NewReader(part, partParams["boundary"]), plains, firstHTML)
			if err != nil {
				return hasAttach, err
			}
			hasAttach = hasAttach || nested
		case strings.HasPrefix(partType, "text/plain"):
			data, err := decodePart(part, part.Header.Get("Content-Transfer-Encoding"))
			if err != nil {
				continue // undecodable part, keep whatever else we have
			}
			*plains = append(*plains, data)
		case strings.HasPrefix(partType, "text/html"):
			if *firstHTML == "" {
				if data, err := decodePart(part, part.Header.Get("Content-Transfer-Encoding")); err == nil {
					*firstHTML = data
				}
			}
		default:
			if part.FileName() != "" {
				hasAttach = true
			}
		}
	}
}

func decodePart(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decoding part body: %w", err)
	}
	return string(data), nil
}
