package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/pkg/httputil"
	"github.com/smile-crm/sales-funnel/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func listParams(r *http.Request) (userID, status string, limit int, cursor string) {
	q := r.URL.Query()
	userID = q.Get("user_id")
	status = q.Get("status")
	cursor = q.Get("cursor")

	limit = defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	return
}

// ListTasks returns the tenant's tasks, newest first, optionally filtered by
// review status.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, status, limit, cursor := listParams(r)
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	tasks, next, err := h.store.ListTasks(r.Context(), userID, status, limit, cursor)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"tasks": tasks, "next_cursor": next})
}

// ListDeals returns the tenant's deals.
func (h *Handlers) ListDeals(w http.ResponseWriter, r *http.Request) {
	userID, status, limit, cursor := listParams(r)
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	deals, next, err := h.store.ListDeals(r.Context(), userID, status, limit, cursor)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"deals": deals, "next_cursor": next})
}

// ListContacts returns the tenant's contacts.
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	userID, _, limit, cursor := listParams(r)
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	contacts, next, err := h.store.ListContacts(r.Context(), userID, limit, cursor)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"contacts": contacts, "next_cursor": next})
}

// UpdateTask applies review changes (status, priority, edits) to one task.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	var fields map[string]any
	if !httputil.Decode(w, r, &fields) {
		return
	}
	if len(fields) == 0 {
		httputil.BadRequest(w, "no fields to update")
		return
	}

	task, err := h.store.UpdateTask(r.Context(), userID, chi.URLParam(r, "id"), fields)
	if err != nil {
		writeUpdateError(w, err)
		return
	}
	httputil.OK(w, task)
}

// UpdateDeal applies review changes to one deal.
func (h *Handlers) UpdateDeal(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	var fields map[string]any
	if !httputil.Decode(w, r, &fields) {
		return
	}
	if len(fields) == 0 {
		httputil.BadRequest(w, "no fields to update")
		return
	}

	deal, err := h.store.UpdateDeal(r.Context(), userID, chi.URLParam(r, "id"), fields)
	if err != nil {
		writeUpdateError(w, err)
		return
	}
	httputil.OK(w, deal)
}

func writeUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "not found")
		return
	}
	if errors.Is(err, domain.ErrPersistence) {
		httputil.InternalError(w, err)
		return
	}
	// What remains is a validation failure, safe to echo to the caller.
	httputil.BadRequest(w, err.Error())
}

// statsWindow is how far back the processing counters look.
const statsWindow = 7 * 24 * time.Hour

// Stats is the counter view: last week's processing log, entity counts per
// review status, pipeline value, and poller state for one tenant.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	emails, err := h.store.EmailLogStats(r.Context(), userID, time.Now().UTC().Add(-statsWindow))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	taskCounts := map[string]int{}
	cursor := ""
	for {
		tasks, next, err := h.store.ListTasks(r.Context(), userID, "", maxPageSize, cursor)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		for _, t := range tasks {
			taskCounts[t.Status]++
		}
		if next == "" {
			break
		}
		cursor = next
	}

	dealCounts := map[string]int{}
	var pipelineValue float64
	cursor = ""
	for {
		deals, next, err := h.store.ListDeals(r.Context(), userID, "", maxPageSize, cursor)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		for _, d := range deals {
			dealCounts[d.Status]++
			pipelineValue += d.Value
		}
		if next == "" {
			break
		}
		cursor = next
	}

	httputil.OK(w, map[string]any{
		"emails":          emails,
		"extraction_rate": emails.ExtractionRate(),
		"tasks":           taskCounts,
		"deals":           dealCounts,
		"pipeline_value":  pipelineValue,
		"scheduler":       h.scheduler.Status(),
	})
}
