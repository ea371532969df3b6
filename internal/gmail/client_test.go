package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/tokens"
)

type memTokens struct {
	byUser map[string]*tokens.Token
}

func (m *memTokens) Get(ctx context.Context, userID string) (*tokens.Token, error) {
	return m.byUser[userID], nil
}

func (m *memTokens) Save(ctx context.Context, tok *tokens.Token) error {
	m.byUser[tok.UserID] = tok
	return nil
}

type fakeRefresher struct {
	out *tokens.Token
	err error
}

func (f *fakeRefresher) Refresh(ctx context.Context, stored *tokens.Token) (*tokens.Token, error) {
	return f.out, f.err
}

func freshToken(user string) *tokens.Token {
	return &tokens.Token{
		UserID:       user,
		AccessToken:  "valid-token",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
}

func testClient(t *testing.T, handler http.Handler, store TokenStore, refresher Refresher) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(store, refresher)
	c.baseURL = srv.URL
	c.http = srv.Client()
	return c
}

func TestListLabels(t *testing.T) {
	store := &memTokens{byUser: map[string]*tokens.Token{"u@x.com": freshToken("u@x.com")}}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me/labels", r.URL.Path)
		assert.Equal(t, "Bearer valid-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"labels": []map[string]string{
				{"id": "INBOX", "name": "INBOX"},
				{"id": "Label_7", "name": "Leads"},
			},
		})
	}), store, &fakeRefresher{})

	labels, err := c.ListLabels(context.Background(), "u@x.com")
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "Leads", labels[1].Name)
}

func TestFetchSinceDecodesRawMessages(t *testing.T) {
	raw := "Message-ID: <m1@x>\r\n" +
		"From: Priya <priya@example.com>\r\n" +
		"Subject: demo request\r\n" +
		"\r\n" +
		"We need 50 seats.\r\n"
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(raw))

	store := &memTokens{byUser: map[string]*tokens.Token{"u@x.com": freshToken("u@x.com")}}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/me/messages":
			assert.Equal(t, "label:INBOX after:2025/03/01", r.URL.Query().Get("q"))
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "g-1"}},
			})
		case "/users/me/messages/g-1":
			assert.Equal(t, "raw", r.URL.Query().Get("format"))
			json.NewEncoder(w).Encode(map[string]string{"raw": encoded})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}), store, &fakeRefresher{})

	since := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	msgs, err := c.FetchSince(context.Background(), "u@x.com", "INBOX", since, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "g-1", msgs[0].GmailID)
	assert.Equal(t, "m1@x", msgs[0].Canonical.MessageID)
	assert.Equal(t, "priya@example.com", msgs[0].Canonical.SenderEmail)
	assert.Equal(t, "We need 50 seats.", msgs[0].Canonical.Body)
}

func TestFetchSinceRespectsMax(t *testing.T) {
	store := &memTokens{byUser: map[string]*tokens.Token{"u@x.com": freshToken("u@x.com")}}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/me/messages":
			assert.Equal(t, "2", r.URL.Query().Get("maxResults"))
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "a"}, {"id": "b"}},
			})
		default:
			encoded := base64.URLEncoding.WithPadding(base64.NoPadding).
				EncodeToString([]byte("From: a@b.c\r\nMessage-ID: <x@y>\r\n\r\nhi\r\n"))
			json.NewEncoder(w).Encode(map[string]string{"raw": encoded})
		}
	}), store, &fakeRefresher{})

	msgs, err := c.FetchSince(context.Background(), "u@x.com", "INBOX", time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestAuthErrors(t *testing.T) {
	// no stored credential
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		&memTokens{byUser: map[string]*tokens.Token{}}, &fakeRefresher{})
	_, err := c.ListLabels(context.Background(), "nobody@x.com")
	assert.True(t, errors.Is(err, domain.ErrAuthExpired))

	// provider rejects the token
	store := &memTokens{byUser: map[string]*tokens.Token{"u@x.com": freshToken("u@x.com")}}
	c = testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), store, &fakeRefresher{})
	_, err = c.ListLabels(context.Background(), "u@x.com")
	assert.True(t, errors.Is(err, domain.ErrAuthExpired))
}

func TestTransientFetchError(t *testing.T) {
	store := &memTokens{byUser: map[string]*tokens.Token{"u@x.com": freshToken("u@x.com")}}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}), store, &fakeRefresher{})
	// bypass retry backoff
	c.http = &http.Client{}

	_, err := c.ListLabels(context.Background(), "u@x.com")
	assert.True(t, errors.Is(err, domain.ErrTransientFetch))
}

func TestExpiringTokenIsRefreshedAndSaved(t *testing.T) {
	stale := &tokens.Token{
		UserID:       "u@x.com",
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	}
	store := &memTokens{byUser: map[string]*tokens.Token{"u@x.com": stale}}
	refreshed := freshToken("u@x.com")
	refreshed.AccessToken = "renewed"

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer renewed", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"labels": []map[string]string{}})
	}), store, &fakeRefresher{out: refreshed})

	_, err := c.ListLabels(context.Background(), "u@x.com")
	require.NoError(t, err)
	assert.Equal(t, "renewed", store.byUser["u@x.com"].AccessToken)
}

func TestMarkSeen(t *testing.T) {
	var gotBody map[string][]string
	store := &memTokens{byUser: map[string]*tokens.Token{"u@x.com": freshToken("u@x.com")}}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/me/messages/g-9/modify", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}), store, &fakeRefresher{})

	require.NoError(t, c.MarkSeen(context.Background(), "u@x.com", "g-9"))
	assert.Equal(t, []string{"UNREAD"}, gotBody["removeLabelIds"])
}
