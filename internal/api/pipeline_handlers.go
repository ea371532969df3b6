package api

import (
	"io"
	"net/http"

	"github.com/smile-crm/sales-funnel/internal/mailparse"
	"github.com/smile-crm/sales-funnel/internal/pkg/httputil"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

// maxMIMEBytes caps ad-hoc uploads; mailbox messages are far smaller.
const maxMIMEBytes = 5 << 20

// ManualPoll triggers an immediate poll for one tenant.
func (h *Handlers) ManualPoll(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.scheduler.PollTenant(r.Context(), req.UserID)
	if err != nil {
		httputil.Error(w, http.StatusBadGateway, "poll failed: "+err.Error())
		return
	}
	httputil.OK(w, res)
}

// SchedulerStart enables the background poll loop.
func (h *Handlers) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Start()
	httputil.OK(w, map[string]any{"running": true})
}

// SchedulerStop disables the background poll loop.
func (h *Handlers) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	httputil.OK(w, map[string]any{"running": false})
}

// SchedulerStatus reports poller state and per-tenant cursors.
func (h *Handlers) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.scheduler.Status())
}

// Ingest processes one raw MIME message for an explicit tenant, with full
// persistence. Used for replays and integrations that bypass the mailbox.
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}
	h.runPipeline(w, r, h.engine, userID, "manual")
}

// DemoProcess runs the pipeline without persistence so prospects can try
// extraction against their own mail. Rate limited per client IP.
func (h *Handlers) DemoProcess(w http.ResponseWriter, r *http.Request) {
	h.runPipeline(w, r, h.demo, "demo", "demo")
}

func (h *Handlers) runPipeline(w http.ResponseWriter, r *http.Request, proc Processor, userID, source string) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxMIMEBytes))
	if err != nil {
		httputil.BadRequest(w, "reading body failed")
		return
	}
	if len(raw) == 0 {
		httputil.BadRequest(w, "empty message")
		return
	}

	msg, err := mailparse.Parse(raw)
	if err != nil {
		httputil.BadRequest(w, "unparseable MIME message: "+err.Error())
		return
	}

	res, err := proc.Process(r.Context(), userID, source, msg)
	if err != nil {
		logger.Error("Ad-hoc processing failed", "user_id", userID, "source", source, "error", err)
		httputil.Error(w, http.StatusBadGateway, "processing failed")
		return
	}
	httputil.OK(w, res)
}
