package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/smile-crm/sales-funnel/internal/pkg/httputil"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

const stateCookie = "gmail_oauth_state"

// GmailConnect starts the consent flow. The state nonce rides a short-lived
// cookie and must come back on the callback.
func (h *Handlers) GmailConnect(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oauth.AuthURL(state), http.StatusTemporaryRedirect)
}

// GmailCallback completes the flow: verifies state, exchanges the code, and
// stores the credential. The tenant ID is the Gmail profile address resolved
// during the exchange.
func (h *Handlers) GmailCallback(w http.ResponseWriter, r *http.Request) {
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		httputil.Error(w, http.StatusBadRequest, "consent denied: "+errMsg)
		return
	}

	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || state == "" || cookie.Value != state {
		httputil.Error(w, http.StatusBadRequest, "state mismatch")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.BadRequest(w, "missing code")
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		logger.Error("OAuth exchange failed", "error", err)
		httputil.Error(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	// Clear the state cookie.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	logger.Info("Gmail account connected", "user_id", tok.UserID)
	httputil.OK(w, map[string]any{"connected": true, "user_id": tok.UserID})
}

// GmailStatus reports whether a tenant has a live credential.
func (h *Handlers) GmailStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	tok, err := h.tokens.Get(r.Context(), userID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if tok == nil {
		httputil.OK(w, map[string]any{"connected": false})
		return
	}

	httputil.OK(w, map[string]any{
		"connected":    true,
		"user_id":      tok.UserID,
		"expires_soon": tok.ExpiresSoon(time.Now()),
		"connected_at": tok.CreatedAt,
	})
}

// GmailDisconnect revokes a tenant: full data purge (idempotency rows
// included — a disconnect is consent withdrawal, not cleanup), credential
// delete, and cursor forget.
func (h *Handlers) GmailDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	purged, err := h.store.PurgeTenant(r.Context(), req.UserID, true)
	if err != nil {
		logger.Error("Tenant purge failed", "user_id", req.UserID, "error", err)
		httputil.InternalError(w, err)
		return
	}

	if err := h.tokens.Delete(r.Context(), req.UserID); err != nil {
		logger.Error("Token delete failed", "user_id", req.UserID, "error", err)
		httputil.InternalError(w, err)
		return
	}
	h.scheduler.ForgetCursor(req.UserID)

	logger.Info("Gmail account disconnected", "user_id", req.UserID)
	httputil.OK(w, map[string]any{"disconnected": true, "purged": purged})
}

// GmailLabels lists the tenant's mailbox labels for poll configuration.
func (h *Handlers) GmailLabels(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	labels, err := h.labels.ListLabels(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusBadGateway, "listing labels failed")
		return
	}
	httputil.OK(w, map[string]any{"labels": labels})
}
