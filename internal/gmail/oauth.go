// Package gmail talks to the Gmail REST API: OAuth consent, label listing,
// and incremental message fetching for the poll scheduler.
package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/smile-crm/sales-funnel/internal/config"
	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/tokens"
)

// Scopes requested at consent time. Modify is needed to clear UNREAD after
// processing.
var oauthScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.labels",
	"https://www.googleapis.com/auth/gmail.modify",
}

// OAuth wraps the Google OAuth flow for mailbox access.
type OAuth struct {
	cfg *oauth2.Config
}

// NewOAuth builds the OAuth flow from application credentials.
func NewOAuth(gc config.GmailConfig) *OAuth {
	return &OAuth{cfg: &oauth2.Config{
		ClientID:     gc.ClientID,
		ClientSecret: gc.ClientSecret,
		RedirectURL:  gc.RedirectURL,
		Scopes:       oauthScopes,
		Endpoint:     google.Endpoint,
	}}
}

// AuthURL returns the consent URL. Offline access plus forced consent is
// what guarantees Google hands back a refresh token.
func (o *OAuth) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for a stored credential. The tenant
// identity comes from the Gmail profile of the newly minted token.
func (o *OAuth) Exchange(ctx context.Context, code string) (*tokens.Token, error) {
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	email, err := o.profileEmail(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &tokens.Token{
		UserID:       email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenURI:     google.Endpoint.TokenURL,
		Scopes:       oauthScopes,
		Expiry:       tok.Expiry.UTC().Format(time.RFC3339),
	}, nil
}

// Refresh exchanges the refresh token for a fresh access token. A tenant
// without a refresh token, or one Google refuses to refresh, has to
// re-consent.
func (o *OAuth) Refresh(ctx context.Context, stored *tokens.Token) (*tokens.Token, error) {
	if stored.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token for %s: %w", stored.UserID, domain.ErrAuthExpired)
	}
	src := o.cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: stored.RefreshToken,
	})
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token for %s: %w", stored.UserID, domain.ErrAuthExpired)
	}
	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		refreshToken = stored.RefreshToken
	}
	return &tokens.Token{
		UserID:       stored.UserID,
		AccessToken:  fresh.AccessToken,
		RefreshToken: refreshToken,
		TokenURI:     stored.TokenURI,
		Scopes:       stored.Scopes,
		Expiry:       fresh.Expiry.UTC().Format(time.RFC3339),
		CreatedAt:    stored.CreatedAt,
	}, nil
}

// profileEmail asks Gmail who the token belongs to.
func (o *OAuth) profileEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	client := o.cfg.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://gmail.googleapis.com/gmail/v1/users/me/profile", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching Gmail profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Gmail profile returned status %d", resp.StatusCode)
	}
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("decoding Gmail profile: %w", err)
	}
	if profile.EmailAddress == "" {
		return "", fmt.Errorf("Gmail profile has no email address")
	}
	return profile.EmailAddress, nil
}
