// Package pipeline runs each message through the processing state machine:
// idempotency gate, classify, prefilter, extract, confidence gate, persist,
// emit. Non-sales messages skip ahead to emit; the idempotency record is
// written last so its absence is always permission to run again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smile-crm/sales-funnel/internal/config"
	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/events"
	"github.com/smile-crm/sales-funnel/internal/llm"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
	"github.com/smile-crm/sales-funnel/internal/store"
)

// Result statuses.
const (
	ResultProcessed = "processed"
	ResultSkipped   = "skipped"
	ResultError     = "error"
)

// LanguageModel is the slice of the LLM client the engine calls.
type LanguageModel interface {
	Classify(ctx context.Context, in llm.ClassifyInput) (llm.Classification, error)
	ClassifyBatch(ctx context.Context, in []llm.ClassifyInput) ([]llm.Classification, error)
	Extract(ctx context.Context, in llm.ExtractInput) (llm.Extraction, error)
}

// Storage is the persistence surface the engine writes through. The demo
// endpoint substitutes a no-op implementation.
type Storage interface {
	GetEmailLog(ctx context.Context, messageIDHash string) (*domain.EmailLog, error)
	PutEmailLog(ctx context.Context, log *domain.EmailLog) error
	SaveExtracted(ctx context.Context, contacts []*domain.Contact, tasks []*domain.Task, deals []*domain.Deal) *store.SaveResult
}

// Engine executes the per-message state machine.
type Engine struct {
	llm       LanguageModel
	store     Storage
	sink      events.Sink
	prefilter *Prefilter
	threshold float64
	ttlDays   int
	batchSize int
}

func NewEngine(cfg config.PipelineConfig, lm LanguageModel, st Storage, sink events.Sink) *Engine {
	return &Engine{
		llm:       lm,
		store:     st,
		sink:      sink,
		prefilter: NewPrefilter(cfg.PrefilterMaxContentLength),
		threshold: cfg.ConfidenceThreshold,
		ttlDays:   cfg.IdempotencyTTLDays,
		batchSize: cfg.BatchSize,
	}
}

// Result summarizes one message's trip through the pipeline.
type Result struct {
	Status           string         `json:"status"`
	Reason           string         `json:"reason,omitempty"`
	MessageID        string         `json:"message_id"`
	Fingerprint      string         `json:"fingerprint"`
	Category         string         `json:"category,omitempty"`
	BusinessScore    float64        `json:"business_score"`
	TaskIDs          []string       `json:"task_ids"`
	DealIDs          []string       `json:"deal_ids"`
	HighConfTasks    int            `json:"high_confidence_tasks"`
	DraftTasks       int            `json:"draft_tasks"`
	HighConfDeals    int            `json:"high_confidence_deals"`
	DraftDeals       int            `json:"draft_deals"`
	TokensUsed       int            `json:"tokens_used"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	Tasks            []*domain.Task `json:"tasks,omitempty"`
	Deals            []*domain.Deal `json:"deals,omitempty"`
}

func newResult(msg *domain.CanonicalMessage, fingerprint string) *Result {
	return &Result{
		MessageID:   msg.MessageID,
		Fingerprint: fingerprint,
		TaskIDs:     []string{},
		DealIDs:     []string{},
	}
}

// Process runs one message end to end. The returned error is non-nil only
// for error-status results; skips are normal outcomes.
func (e *Engine) Process(ctx context.Context, userID, source string, msg *domain.CanonicalMessage) (*Result, error) {
	start := time.Now()
	fingerprint := msg.Fingerprint()
	res := newResult(msg, fingerprint)

	existing, err := e.store.GetEmailLog(ctx, fingerprint)
	if err != nil {
		res.Status, res.Reason = ResultError, "idempotency_lookup"
		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		return res, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		logger.Info("Message already processed", "user_id", userID, "fingerprint", fingerprint[:16])
		res.Status, res.Reason = ResultSkipped, "already_processed"
		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		return res, nil
	}

	cls := e.classify(ctx, msg)
	return e.run(ctx, userID, source, msg, cls, res, start)
}

func (e *Engine) classify(ctx context.Context, msg *domain.CanonicalMessage) llm.Classification {
	cls, err := e.llm.Classify(ctx, llm.ClassifyInput{
		Sender:  msg.SenderEmail,
		Subject: msg.Subject,
		Content: msg.Body,
	})
	if err != nil {
		// Fail open: an unclassifiable message is skipped but still logged.
		logger.Error("Classification failed", "sender", msg.SenderEmail, "error", err)
		return llm.Classification{Category: llm.CategoryUnknown, Reasoning: "classification error"}
	}
	return cls
}

// run executes everything after the idempotency gate. The classification may
// come from a single call or a batched one.
func (e *Engine) run(ctx context.Context, userID, source string, msg *domain.CanonicalMessage, cls llm.Classification, res *Result, start time.Time) (*Result, error) {
	res.Category = cls.Category
	res.TokensUsed += cls.TokensUsed

	log := domain.NewEmailLog(res.Fingerprint, msg.MessageID, userID, msg.Subject, msg.SenderEmail, e.ttlDays)
	log.Classification = cls.Category

	if cls.Category != llm.CategorySalesLead {
		res.Status, res.Reason = ResultSkipped, "category_"+cls.Category
		return e.finish(ctx, msg, log, res, start)
	}

	out := e.prefilter.Process(msg)
	res.BusinessScore = out.BusinessScore
	log.PrefilterResult = out.Result
	if !out.Passed() {
		res.Status, res.Reason = ResultSkipped, out.Reason
		return e.finish(ctx, msg, log, res, start)
	}

	ext, err := e.llm.Extract(ctx, llm.ExtractInput{
		Sender:  msg.SenderEmail,
		Subject: msg.Subject,
		Content: out.Content,
	})
	res.TokensUsed += ext.TokensUsed
	switch {
	case errors.Is(err, domain.ErrExtractionParse):
		// Zero candidates. Retrying an unparseable reply forever wins
		// nothing, so the message still gets its idempotency row.
		logger.Warn("Extraction reply unparseable, treating as empty", "sender", msg.SenderEmail, "error", err)
		ext = llm.Extraction{Agent: ext.Agent, TokensUsed: ext.TokensUsed}
	case err != nil:
		// No idempotency row on failure: the message stays eligible for the
		// next run.
		logger.Error("Extraction failed", "sender", msg.SenderEmail, "error", err)
		res.Status, res.Reason = ResultError, "extraction"
		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		e.emitCompletion(ctx, msg, res)
		return res, fmt.Errorf("extraction: %w", err)
	}

	tasks, deals := e.gate(userID, res.Fingerprint, ext, res)

	var contacts []*domain.Contact
	var saved *store.SaveResult
	if len(tasks) > 0 || len(deals) > 0 {
		if c, err := domain.NewContact(userID, msg.SenderEmail, e.senderName(msg)); err == nil {
			contacts = append(contacts, c)
		}
		saved = e.store.SaveExtracted(ctx, contacts, tasks, deals)
		res.TaskIDs = saved.TaskIDs
		res.DealIDs = saved.DealIDs
		res.Tasks = tasks
		res.Deals = deals
	}

	log.TasksCreated = res.TaskIDs
	log.DealsCreated = res.DealIDs
	res.Status = ResultProcessed
	return e.finish(ctx, msg, log, res, start)
}

// gate partitions extraction candidates at the confidence threshold and
// builds validated entities. Candidates the domain rejects are dropped with
// a log line, never persisted half-valid.
func (e *Engine) gate(userID, fingerprint string, ext llm.Extraction, res *Result) ([]*domain.Task, []*domain.Deal) {
	var tasks []*domain.Task
	var deals []*domain.Deal

	for _, c := range ext.Tasks {
		status := domain.StatusDraft
		if c.Confidence >= e.threshold {
			status = domain.StatusAccepted
			res.HighConfTasks++
		} else {
			res.DraftTasks++
		}
		var due *time.Time
		if c.DueDate != "" {
			if d, err := time.Parse("2006-01-02", c.DueDate); err == nil {
				due = &d
			}
		}
		t, err := domain.NewTask(userID, c.Title, c.Description, c.Priority, fingerprint, ext.Agent, c.Snippet, c.Confidence, due, status)
		if err != nil {
			logger.Warn("Dropping invalid task candidate", "title", c.Title, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}

	for _, c := range ext.Deals {
		status := domain.StatusDraft
		if c.Confidence >= e.threshold {
			status = domain.StatusAccepted
			res.HighConfDeals++
		} else {
			res.DraftDeals++
		}
		d, err := domain.NewDeal(userID, c.Title, c.Description, c.Currency, c.Stage, fingerprint, ext.Agent, c.Snippet, c.Value, c.Probability, c.Confidence, status)
		if err != nil {
			logger.Warn("Dropping invalid deal candidate", "title", c.Title, "error", err)
			continue
		}
		deals = append(deals, d)
	}

	return tasks, deals
}

func (e *Engine) senderName(msg *domain.CanonicalMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.InferredSenderName()
}

// finish writes the idempotency record and emits events. The record is the
// transactional anchor: a failed write downgrades the result to error so the
// message will be picked up again.
func (e *Engine) finish(ctx context.Context, msg *domain.CanonicalMessage, log *domain.EmailLog, res *Result, start time.Time) (*Result, error) {
	res.ProcessingTimeMS = time.Since(start).Milliseconds()

	switch res.Status {
	case ResultProcessed:
		log.Status = domain.ProcessingProcessed
	default:
		log.Status = domain.ProcessingSkipped
	}
	log.LLMTokensUsed = res.TokensUsed
	log.ProcessingTimeMS = res.ProcessingTimeMS

	if err := e.store.PutEmailLog(ctx, log); err != nil {
		logger.Error("Failed to write idempotency record", "fingerprint", res.Fingerprint[:16], "error", err)
		res.Status, res.Reason = ResultError, "idempotency_write"
		e.emitCompletion(ctx, msg, res)
		return res, err
	}

	e.emitCompletion(ctx, msg, res)
	e.emitEntityEvents(ctx, msg, res)
	return res, nil
}

func (e *Engine) emitCompletion(ctx context.Context, msg *domain.CanonicalMessage, res *Result) {
	e.emit(ctx, events.New(events.TypeProcessingCompleted, map[string]any{
		"message_id":         msg.MessageID,
		"message_hash":       res.Fingerprint,
		"status":             res.Status,
		"processing_time_ms": res.ProcessingTimeMS,
		"summary": map[string]any{
			"tasks_created":         len(res.TaskIDs),
			"deals_created":         len(res.DealIDs),
			"high_confidence_tasks": res.HighConfTasks,
			"high_confidence_deals": res.HighConfDeals,
			"tokens_used":           res.TokensUsed,
			"business_score":        res.BusinessScore,
		},
	}))
}

func (e *Engine) emitEntityEvents(ctx context.Context, msg *domain.CanonicalMessage, res *Result) {
	savedTasks := toSet(res.TaskIDs)
	savedDeals := toSet(res.DealIDs)
	var reviewTasks, reviewDeals []map[string]any

	for _, t := range res.Tasks {
		if t.Status == domain.StatusAccepted && savedTasks[t.ID] {
			e.emit(ctx, events.New(events.TypeTaskAutoApproved, map[string]any{
				"task_id":      t.ID,
				"title":        t.Title,
				"confidence":   t.Confidence,
				"source_email": msg.MessageID,
			}))
		} else if t.Status == domain.StatusDraft {
			reviewTasks = append(reviewTasks, map[string]any{"title": t.Title, "confidence": t.Confidence})
		}
	}
	for _, d := range res.Deals {
		if d.Status == domain.StatusAccepted && savedDeals[d.ID] {
			e.emit(ctx, events.New(events.TypeDealAutoApproved, map[string]any{
				"deal_id":      d.ID,
				"title":        d.Title,
				"confidence":   d.Confidence,
				"value":        d.Value,
				"source_email": msg.MessageID,
			}))
		} else if d.Status == domain.StatusDraft {
			reviewDeals = append(reviewDeals, map[string]any{"title": d.Title, "confidence": d.Confidence, "value": d.Value})
		}
	}

	if len(reviewTasks) > 0 {
		e.emit(ctx, events.New(events.TypeTasksRequireReview, map[string]any{
			"count":        len(reviewTasks),
			"source_email": msg.MessageID,
			"tasks":        reviewTasks,
		}))
	}
	if len(reviewDeals) > 0 {
		e.emit(ctx, events.New(events.TypeDealsRequireReview, map[string]any{
			"count":        len(reviewDeals),
			"source_email": msg.MessageID,
			"deals":        reviewDeals,
		}))
	}
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Emit(ctx, ev); err != nil {
		logger.Warn("Event emission failed", "type", ev.Type, "error", err)
	}
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}
