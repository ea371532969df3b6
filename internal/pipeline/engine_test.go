package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smile-crm/sales-funnel/internal/config"
	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/events"
	"github.com/smile-crm/sales-funnel/internal/llm"
	"github.com/smile-crm/sales-funnel/internal/store"
)

type fakeLLM struct {
	classification llm.Classification
	classifyErr    error
	extraction     llm.Extraction
	extractErr     error

	classifyCalls      int
	classifyBatchCalls int
	extractCalls       int
	lastExtractContent string
}

func (f *fakeLLM) Classify(_ context.Context, _ llm.ClassifyInput) (llm.Classification, error) {
	f.classifyCalls++
	return f.classification, f.classifyErr
}

func (f *fakeLLM) ClassifyBatch(_ context.Context, in []llm.ClassifyInput) ([]llm.Classification, error) {
	f.classifyBatchCalls++
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	out := make([]llm.Classification, len(in))
	for i := range out {
		out[i] = f.classification
	}
	return out, nil
}

func (f *fakeLLM) Extract(_ context.Context, in llm.ExtractInput) (llm.Extraction, error) {
	f.extractCalls++
	f.lastExtractContent = in.Content
	return f.extraction, f.extractErr
}

type fakeStorage struct {
	logs       map[string]*domain.EmailLog
	tasks      []*domain.Task
	deals      []*domain.Deal
	contacts   []*domain.Contact
	getErr     error
	putErr     error
	saveCalled bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{logs: map[string]*domain.EmailLog{}}
}

func (f *fakeStorage) GetEmailLog(_ context.Context, hash string) (*domain.EmailLog, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.logs[hash], nil
}

func (f *fakeStorage) PutEmailLog(_ context.Context, log *domain.EmailLog) error {
	if f.putErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrIdempotencyWrite, f.putErr)
	}
	f.logs[log.MessageIDHash] = log
	return nil
}

func (f *fakeStorage) SaveExtracted(_ context.Context, contacts []*domain.Contact, tasks []*domain.Task, deals []*domain.Deal) *store.SaveResult {
	f.saveCalled = true
	f.contacts = append(f.contacts, contacts...)
	f.tasks = append(f.tasks, tasks...)
	f.deals = append(f.deals, deals...)
	res := &store.SaveResult{TaskIDs: []string{}, DealIDs: []string{}, ContactIDs: []string{}}
	for _, c := range contacts {
		res.ContactIDs = append(res.ContactIDs, c.ID)
	}
	for _, t := range tasks {
		res.TaskIDs = append(res.TaskIDs, t.ID)
	}
	for _, d := range deals {
		res.DealIDs = append(res.DealIDs, d.ID)
	}
	return res
}

type captureSink struct {
	emitted []events.Event
}

func (c *captureSink) Emit(_ context.Context, e events.Event) error {
	c.emitted = append(c.emitted, e)
	return nil
}

func (c *captureSink) types() []string {
	out := make([]string, len(c.emitted))
	for i, e := range c.emitted {
		out[i] = e.Type
	}
	return out
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ConfidenceThreshold:       0.8,
		PrefilterMaxContentLength: 5000,
		IdempotencyTTLDays:        90,
		BatchSize:                 10,
	}
}

func salesLead() llm.Classification {
	return llm.Classification{Category: llm.CategorySalesLead, Confidence: 0.95, TokensUsed: 40}
}

func inquiryMessage(id string) *domain.CanonicalMessage {
	return &domain.CanonicalMessage{
		MessageID:   id,
		Subject:     "Logistics contract inquiry",
		SenderEmail: "ramesh.kumar@gmail.com",
		Body:        "We are looking for a logistics partner. Budget approved for the project, roughly 1.5 Cr. Please send a proposal by Friday.",
	}
}

func TestProcessSalesLeadEndToEnd(t *testing.T) {
	lm := &fakeLLM{
		classification: salesLead(),
		extraction: llm.Extraction{
			Tasks: []llm.TaskCandidate{
				{Title: "Send proposal by Friday", Priority: "high", Confidence: 0.9, Snippet: "send a proposal by Friday"},
				{Title: "Maybe check references", Confidence: 0.4},
			},
			Deals: []llm.DealCandidate{
				{Title: "Logistics contract", Value: 15000000, Currency: "INR", Stage: "qualified", Probability: 60, Confidence: 0.9},
			},
			Agent:      "openrouter/mistral-small",
			TokensUsed: 120,
		},
	}
	st := newFakeStorage()
	sink := &captureSink{}
	e := NewEngine(testConfig(), lm, st, sink)

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m1@mail>"))
	require.NoError(t, err)

	assert.Equal(t, ResultProcessed, res.Status)
	assert.Equal(t, llm.CategorySalesLead, res.Category)
	assert.Len(t, res.TaskIDs, 2)
	assert.Len(t, res.DealIDs, 1)
	assert.Equal(t, 1, res.HighConfTasks)
	assert.Equal(t, 1, res.DraftTasks)
	assert.Equal(t, 1, res.HighConfDeals)
	assert.Equal(t, 160, res.TokensUsed)

	// Confidence gate: 0.9 >= 0.8 auto-accepts, 0.4 stays draft.
	require.Len(t, st.tasks, 2)
	assert.Equal(t, domain.StatusAccepted, st.tasks[0].Status)
	assert.Equal(t, domain.StatusDraft, st.tasks[1].Status)
	require.Len(t, st.deals, 1)
	assert.Equal(t, domain.StatusAccepted, st.deals[0].Status)
	assert.Equal(t, 15000000.0, st.deals[0].Value)

	// A sender contact rides along with any surviving entity.
	require.Len(t, st.contacts, 1)
	assert.Equal(t, "ramesh.kumar@gmail.com", st.contacts[0].Email)
	assert.Equal(t, "Ramesh Kumar", st.contacts[0].Name)

	// Idempotency record carries the created IDs.
	log := st.logs[res.Fingerprint]
	require.NotNil(t, log)
	assert.Equal(t, domain.ProcessingProcessed, log.Status)
	assert.ElementsMatch(t, res.TaskIDs, log.TasksCreated)
	assert.Equal(t, 160, log.LLMTokensUsed)

	assert.Equal(t, []string{
		events.TypeProcessingCompleted,
		events.TypeTaskAutoApproved,
		events.TypeDealAutoApproved,
		events.TypeTasksRequireReview,
	}, sink.types())
}

func TestProcessSkipsNonSalesCategory(t *testing.T) {
	lm := &fakeLLM{classification: llm.Classification{Category: llm.CategoryInternalOperations, Confidence: 0.9}}
	st := newFakeStorage()
	sink := &captureSink{}
	e := NewEngine(testConfig(), lm, st, sink)

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m2@mail>"))
	require.NoError(t, err)

	assert.Equal(t, ResultSkipped, res.Status)
	assert.Equal(t, "category_internal_operations", res.Reason)
	assert.Zero(t, lm.extractCalls)
	assert.False(t, st.saveCalled)

	// Skips are still logged so the message is not reclassified next poll.
	log := st.logs[res.Fingerprint]
	require.NotNil(t, log)
	assert.Equal(t, domain.ProcessingSkipped, log.Status)
	assert.Equal(t, []string{events.TypeProcessingCompleted}, sink.types())
}

func TestProcessSecondSightingSkips(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extraction: llm.Extraction{}}
	st := newFakeStorage()
	e := NewEngine(testConfig(), lm, st, &captureSink{})
	msg := inquiryMessage("<m3@mail>")

	_, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", msg)
	require.NoError(t, err)
	require.Equal(t, 1, lm.classifyCalls)

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", msg)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res.Status)
	assert.Equal(t, "already_processed", res.Reason)
	assert.Equal(t, 1, lm.classifyCalls, "no second LLM call")
}

func TestProcessClassifierErrorFailsOpen(t *testing.T) {
	lm := &fakeLLM{classifyErr: errors.New("upstream down")}
	st := newFakeStorage()
	e := NewEngine(testConfig(), lm, st, &captureSink{})

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m4@mail>"))
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res.Status)
	assert.Equal(t, llm.CategoryUnknown, res.Category)
	require.NotNil(t, st.logs[res.Fingerprint])
	assert.Equal(t, llm.CategoryUnknown, st.logs[res.Fingerprint].Classification)
}

func TestProcessExtractionErrorLeavesMessageEligible(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extractErr: domain.ErrThrottled}
	st := newFakeStorage()
	sink := &captureSink{}
	e := NewEngine(testConfig(), lm, st, sink)

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m5@mail>"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrThrottled)
	assert.Equal(t, ResultError, res.Status)

	// No idempotency row on failure: the next poll may retry.
	assert.Empty(t, st.logs)
	assert.Equal(t, []string{events.TypeProcessingCompleted}, sink.types())
}

func TestProcessUnparseableExtractionIsProcessedEmpty(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extractErr: domain.ErrExtractionParse}
	st := newFakeStorage()
	e := NewEngine(testConfig(), lm, st, &captureSink{})

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m5b@mail>"))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res.Status)
	assert.Empty(t, res.TaskIDs)
	assert.Empty(t, res.DealIDs)

	// Retrying garbage wins nothing, so the idempotency row is written.
	log := st.logs[res.Fingerprint]
	require.NotNil(t, log)
	assert.Empty(t, log.TasksCreated)
	assert.False(t, st.saveCalled)
}

func TestProcessIdempotencyWriteFailureIsFatal(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extraction: llm.Extraction{
		Tasks: []llm.TaskCandidate{{Title: "Call back", Confidence: 0.9}},
	}}
	st := newFakeStorage()
	st.putErr = errors.New("throughput exceeded")
	e := NewEngine(testConfig(), lm, st, &captureSink{})

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m6@mail>"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIdempotencyWrite)
	assert.Equal(t, ResultError, res.Status)
	assert.Equal(t, "idempotency_write", res.Reason)
}

func TestProcessDropsInvalidCandidates(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extraction: llm.Extraction{
		Tasks: []llm.TaskCandidate{{Title: "   ", Confidence: 0.9}},
		Deals: []llm.DealCandidate{{Title: "Good deal", Value: 1000, Currency: "INR", Confidence: 0.9}},
	}}
	st := newFakeStorage()
	e := NewEngine(testConfig(), lm, st, &captureSink{})

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m7@mail>"))
	require.NoError(t, err)
	assert.Empty(t, res.TaskIDs)
	assert.Len(t, res.DealIDs, 1)
}

func TestProcessNoEntitiesMeansNoContact(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extraction: llm.Extraction{}}
	st := newFakeStorage()
	e := NewEngine(testConfig(), lm, st, &captureSink{})

	res, err := e.Process(context.Background(), "owner@gmail.com", "gmail_poll", inquiryMessage("<m8@mail>"))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res.Status)
	assert.False(t, st.saveCalled)
	assert.Empty(t, st.contacts)
}

func TestProcessBatchClassifiesOnce(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extraction: llm.Extraction{}}
	st := newFakeStorage()
	e := NewEngine(testConfig(), lm, st, &captureSink{})
	ctx := context.Background()

	seen := inquiryMessage("<seen@mail>")
	_, err := e.Process(ctx, "owner@gmail.com", "gmail_poll", seen)
	require.NoError(t, err)
	lm.classifyCalls = 0

	msgs := []*domain.CanonicalMessage{seen, inquiryMessage("<a@mail>"), inquiryMessage("<b@mail>")}
	results := e.ProcessBatch(ctx, "owner@gmail.com", "gmail_poll", msgs)

	require.Len(t, results, 3)
	assert.Equal(t, ResultSkipped, results[0].Status)
	assert.Equal(t, "already_processed", results[0].Reason)
	assert.Equal(t, ResultProcessed, results[1].Status)
	assert.Equal(t, ResultProcessed, results[2].Status)

	assert.Equal(t, 1, lm.classifyBatchCalls, "survivors share one classify call")
	assert.Zero(t, lm.classifyCalls)
}

func TestProcessBatchClassifyErrorSkipsAll(t *testing.T) {
	lm := &fakeLLM{classifyErr: errors.New("quota")}
	st := newFakeStorage()
	e := NewEngine(testConfig(), lm, st, &captureSink{})

	msgs := []*domain.CanonicalMessage{inquiryMessage("<a@mail>"), inquiryMessage("<b@mail>")}
	results := e.ProcessBatch(context.Background(), "owner@gmail.com", "gmail_poll", msgs)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, ResultSkipped, r.Status)
		assert.Equal(t, llm.CategoryUnknown, r.Category)
	}
}

func TestProcessBatchChunksBySize(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	lm := &fakeLLM{classification: salesLead(), extraction: llm.Extraction{}}
	e := NewEngine(cfg, lm, newFakeStorage(), &captureSink{})

	msgs := make([]*domain.CanonicalMessage, 5)
	for i := range msgs {
		msgs[i] = inquiryMessage(fmt.Sprintf("<chunk-%d@mail>", i))
	}
	results := e.ProcessBatch(context.Background(), "owner@gmail.com", "gmail_poll", msgs)

	require.Len(t, results, 5)
	// 2+2 batched calls plus a single-message chunk classified directly.
	assert.Equal(t, 2, lm.classifyBatchCalls)
	assert.Equal(t, 1, lm.classifyCalls)
}

func TestDemoModePersistsNothing(t *testing.T) {
	lm := &fakeLLM{classification: salesLead(), extraction: llm.Extraction{
		Deals: []llm.DealCandidate{{Title: "Trial deal", Value: 500000, Currency: "INR", Confidence: 0.9}},
	}}
	e := NewEngine(testConfig(), lm, NopStorage{}, &captureSink{})

	res, err := e.Process(context.Background(), "demo", "demo", inquiryMessage("<demo@mail>"))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res.Status)
	assert.Len(t, res.DealIDs, 1)
	require.Len(t, res.Deals, 1)
	assert.Equal(t, "Trial deal", res.Deals[0].Title)
}
