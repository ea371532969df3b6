// Package poller drives the pipeline: on a timer it walks every tenant with
// a stored credential, fetches the mailbox window since that tenant's sync
// cursor, and hands the batch to the engine. Tenants are polled sequentially
// so LLM request rate stays bounded by design rather than by a limiter.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smile-crm/sales-funnel/internal/config"
	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/gmail"
	"github.com/smile-crm/sales-funnel/internal/pipeline"
	"github.com/smile-crm/sales-funnel/internal/pkg/distlock"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

const (
	defaultPeriod     = 5 * time.Minute
	defaultMaxPerPoll = 100
	defaultLabel      = "INBOX"
	sourceGmailPoll   = "gmail_poll"
)

// Mailbox is the slice of the Gmail client the poller uses. The client's
// MarkSeen is deliberately not part of it: polling must never mutate the
// tenant's mailbox.
type Mailbox interface {
	FetchSince(ctx context.Context, userID, label string, since time.Time, max int) ([]gmail.Message, error)
}

// TenantSource lists tenants that have connected an account.
type TenantSource interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// Engine processes a fetched batch.
type Engine interface {
	ProcessBatch(ctx context.Context, userID, source string, msgs []*domain.CanonicalMessage) []*pipeline.Result
}

// Poller owns the poll timer and the per-tenant sync cursors.
type Poller struct {
	mailbox Mailbox
	tenants TenantSource
	engine  Engine
	lock    distlock.DistLock // nil when running a single replica

	period     time.Duration
	maxPerPoll int
	label      string
	firstSync  *time.Location

	cursorMu sync.Mutex
	cursors  map[string]time.Time

	totalTicks    int64
	totalFetched  int64
	totalErrors   int64
	lastTickStart atomic.Int64 // unix seconds, 0 before first tick

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a poller. The lock is optional; when present, only the replica
// holding it runs a given cycle.
func New(cfg config.PollingConfig, mailbox Mailbox, tenants TenantSource, engine Engine, lock distlock.DistLock) *Poller {
	period := cfg.Period()
	if period <= 0 {
		period = defaultPeriod
	}
	maxPerPoll := cfg.MaxMessagesPerPoll
	if maxPerPoll <= 0 {
		maxPerPoll = defaultMaxPerPoll
	}
	label := cfg.Label
	if label == "" {
		label = defaultLabel
	}
	loc, err := time.LoadLocation(cfg.FirstSyncTimezone)
	if err != nil || cfg.FirstSyncTimezone == "" {
		loc = time.UTC
	}

	return &Poller{
		mailbox:    mailbox,
		tenants:    tenants,
		engine:     engine,
		lock:       lock,
		period:     period,
		maxPerPoll: maxPerPoll,
		label:      label,
		firstSync:  loc,
		cursors:    map[string]time.Time{},
	}
}

// Start begins the background poll loop. Safe to call twice.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	logger.Info("Starting mailbox poller", "period", p.period.String(), "label", p.label, "max_per_poll", p.maxPerPoll)

	p.wg.Add(1)
	go p.pollLoop()
}

// Stop signals the loop and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("Mailbox poller stopped",
		"ticks", atomic.LoadInt64(&p.totalTicks),
		"fetched", atomic.LoadInt64(&p.totalFetched),
		"errors", atomic.LoadInt64(&p.totalErrors))
}

// IsRunning reports whether the timer loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollAll(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(p.ctx)
		}
	}
}

// PollAll runs one cycle over every connected tenant. With a distributed
// lock configured, a replica that loses the race simply sits this cycle out.
func (p *Poller) PollAll(ctx context.Context) {
	if p.lock != nil {
		ok, err := p.lock.Acquire(ctx)
		if err != nil {
			logger.Error("Poll lock acquire failed", "error", err)
			return
		}
		if !ok {
			logger.Debug("Poll cycle held by another replica")
			return
		}
		defer func() {
			if err := p.lock.Release(ctx); err != nil {
				logger.Warn("Poll lock release failed", "error", err)
			}
		}()
	}

	atomic.AddInt64(&p.totalTicks, 1)
	p.lastTickStart.Store(time.Now().Unix())

	users, err := p.tenants.ListUsers(ctx)
	if err != nil {
		logger.Error("Listing tenants failed", "error", err)
		atomic.AddInt64(&p.totalErrors, 1)
		return
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.PollTenant(ctx, userID); err != nil {
			// Logged inside; one bad tenant never stops the cycle.
			continue
		}
	}
}

// TenantResult summarizes one tenant's poll.
type TenantResult struct {
	UserID    string `json:"user_id"`
	Fetched   int    `json:"fetched"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// PollTenant fetches and processes one tenant's window. The cursor advances
// to the fetch start time only when the fetch itself succeeded; processing
// errors do not hold it back because failed messages carry no idempotency
// row and the day-granular mailbox query will return them again.
func (p *Poller) PollTenant(ctx context.Context, userID string) (*TenantResult, error) {
	since := p.cursor(userID)
	fetchStart := time.Now()

	msgs, err := p.mailbox.FetchSince(ctx, userID, p.label, since, p.maxPerPoll)
	if err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		switch {
		case errors.Is(err, domain.ErrAuthExpired):
			logger.Warn("Tenant credential expired, skipping", "user_id", userID)
		case errors.Is(err, domain.ErrTransientFetch):
			logger.Warn("Transient mailbox error, skipping tenant this tick", "user_id", userID, "error", err)
		default:
			logger.Error("Mailbox fetch failed", "user_id", userID, "error", err)
		}
		return nil, err
	}
	atomic.AddInt64(&p.totalFetched, int64(len(msgs)))

	res := &TenantResult{UserID: userID, Fetched: len(msgs)}
	if len(msgs) > 0 {
		canonical := make([]*domain.CanonicalMessage, len(msgs))
		for i, m := range msgs {
			canonical[i] = m.Canonical
		}
		results := p.engine.ProcessBatch(ctx, userID, sourceGmailPoll, canonical)

		for _, r := range results {
			switch r.Status {
			case pipeline.ResultProcessed:
				res.Processed++
			case pipeline.ResultSkipped:
				res.Skipped++
			default:
				res.Errors++
				atomic.AddInt64(&p.totalErrors, 1)
			}
		}
	}

	p.setCursor(userID, fetchStart)
	logger.Info("Tenant poll complete", "user_id", userID,
		"fetched", res.Fetched, "processed", res.Processed, "skipped", res.Skipped, "errors", res.Errors)
	return res, nil
}

// cursor returns the tenant's sync position, defaulting to the start of
// today in the configured timezone on first sync.
func (p *Poller) cursor(userID string) time.Time {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	if t, ok := p.cursors[userID]; ok {
		return t
	}
	now := time.Now().In(p.firstSync)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.firstSync)
}

func (p *Poller) setCursor(userID string, t time.Time) {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	p.cursors[userID] = t
}

// ForgetCursor drops a tenant's sync position, used on disconnect so a
// reconnect starts from a fresh day window.
func (p *Poller) ForgetCursor(userID string) {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	delete(p.cursors, userID)
}

// Status reports scheduler state for the HTTP surface.
func (p *Poller) Status() map[string]any {
	p.cursorMu.Lock()
	cursors := make(map[string]string, len(p.cursors))
	for user, t := range p.cursors {
		cursors[user] = t.UTC().Format(time.RFC3339)
	}
	p.cursorMu.Unlock()

	status := map[string]any{
		"running":        p.IsRunning(),
		"period_minutes": int(p.period.Minutes()),
		"max_per_poll":   p.maxPerPoll,
		"tenant_count":   len(cursors),
		"label":          p.label,
		"total_ticks":    atomic.LoadInt64(&p.totalTicks),
		"total_fetched":  atomic.LoadInt64(&p.totalFetched),
		"total_errors":   atomic.LoadInt64(&p.totalErrors),
		"cursors":        cursors,
	}
	if last := p.lastTickStart.Load(); last > 0 {
		status["last_tick_at"] = time.Unix(last, 0).UTC().Format(time.RFC3339)
	}
	return status
}
