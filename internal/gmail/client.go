package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/mailparse"
	"github.com/smile-crm/sales-funnel/internal/pkg/httpretry"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
	"github.com/smile-crm/sales-funnel/internal/tokens"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// listPageSize caps a single messages.list page, matching the API maximum.
const listPageSize = 500

// TokenStore is the slice of the token store the client needs.
type TokenStore interface {
	Get(ctx context.Context, userID string) (*tokens.Token, error)
	Save(ctx context.Context, tok *tokens.Token) error
}

// Refresher renews an access token. Satisfied by *OAuth.
type Refresher interface {
	Refresh(ctx context.Context, stored *tokens.Token) (*tokens.Token, error)
}

// Label is a Gmail label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message pairs a provider message ID (needed for MarkSeen) with its
// canonical decoded form.
type Message struct {
	GmailID   string
	Canonical *domain.CanonicalMessage
}

// Client fetches mail over the Gmail REST API with automatic token refresh.
type Client struct {
	tokens  TokenStore
	oauth   Refresher
	http    httpretry.HTTPDoer
	baseURL string
}

// NewClient builds a Gmail client. Requests retry transparently on 429 and
// 5xx responses.
func NewClient(store TokenStore, oauth Refresher) *Client {
	return &Client{
		tokens:  store,
		oauth:   oauth,
		http:    httpretry.NewRetryClient(&http.Client{Timeout: 60 * time.Second}, 3),
		baseURL: defaultBaseURL,
	}
}

// accessToken returns a valid access token for the tenant, refreshing and
// persisting it when within the expiry skew.
func (c *Client) accessToken(ctx context.Context, userID string) (string, error) {
	tok, err := c.tokens.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if tok == nil {
		return "", fmt.Errorf("no stored credential for %s: %w", logger.RedactEmail(userID), domain.ErrAuthExpired)
	}
	if !tok.ExpiresSoon(time.Now().UTC()) {
		return tok.AccessToken, nil
	}

	fresh, err := c.oauth.Refresh(ctx, tok)
	if err != nil {
		return "", err
	}
	if err := c.tokens.Save(ctx, fresh); err != nil {
		// The refreshed token still works for this cycle; a failed write
		// just forces another refresh next time.
		logger.Warn("failed to persist refreshed token", "user_id", userID, "error", err.Error())
	}
	return fresh.AccessToken, nil
}

// ListLabels returns the tenant's Gmail labels.
func (c *Client) ListLabels(ctx context.Context, userID string) ([]Label, error) {
	var out struct {
		Labels []Label `json:"labels"`
	}
	if err := c.get(ctx, userID, "/users/me/labels", nil, &out); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

// FetchSince returns up to max messages carrying the label and received
// after since. The Gmail query granularity is a day, so callers must expect
// messages they have already seen; idempotency downstream absorbs them.
func (c *Client) FetchSince(ctx context.Context, userID, label string, since time.Time, max int) ([]Message, error) {
	query := fmt.Sprintf("label:%s after:%s", label, since.Format("2006/01/02"))
	logger.Info("fetching mailbox window", "user_id", userID, "query", query, "max", fmt.Sprint(max))

	ids, err := c.listMessageIDs(ctx, userID, query, max)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		msg, err := c.fetchRaw(ctx, userID, id)
		if err != nil {
			// One undecodable message must not sink the whole window.
			logger.Warn("skipping unfetchable message", "user_id", userID, "gmail_id", id, "error", err.Error())
			continue
		}
		messages = append(messages, Message{GmailID: id, Canonical: msg})
	}
	return messages, nil
}

func (c *Client) listMessageIDs(ctx context.Context, userID, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < max {
		params := url.Values{
			"q":          {query},
			"maxResults": {fmt.Sprint(min(listPageSize, max-len(ids)))},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		var page struct {
			Messages []struct {
				ID string `json:"id"`
			} `json:"messages"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.get(ctx, userID, "/users/me/messages", params, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (c *Client) fetchRaw(ctx context.Context, userID, gmailID string) (*domain.CanonicalMessage, error) {
	var out struct {
		Raw string `json:"raw"`
	}
	params := url.Values{"format": {"raw"}}
	if err := c.get(ctx, userID, "/users/me/messages/"+gmailID, params, &out); err != nil {
		return nil, err
	}
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(out.Raw)
	if err != nil {
		return nil, fmt.Errorf("decoding raw message %s: %w", gmailID, err)
	}
	return mailparse.Parse(raw)
}

// MarkSeen clears the UNREAD label after a message has been processed.
func (c *Client) MarkSeen(ctx context.Context, userID, gmailID string) error {
	body, _ := json.Marshal(map[string][]string{"removeLabelIds": {"UNREAD"}})
	return c.do(ctx, userID, http.MethodPost, "/users/me/messages/"+gmailID+"/modify", nil, bytes.NewReader(body), nil)
}

func (c *Client) get(ctx context.Context, userID, path string, params url.Values, out any) error {
	return c.do(ctx, userID, http.MethodGet, path, params, nil, out)
}

func (c *Client) do(ctx context.Context, userID, method, path string, params url.Values, body io.Reader, out any) error {
	token, err := c.accessToken(ctx, userID)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrTransientFetch)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s returned status %d: %w", method, path, resp.StatusCode, domain.ErrAuthExpired)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s returned status %d: %w", method, path, resp.StatusCode, domain.ErrTransientFetch)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
