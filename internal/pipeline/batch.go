package pipeline

import (
	"context"
	"time"

	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/llm"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

const defaultBatchSize = 10

// ProcessBatch runs a fetched batch through the pipeline. Classification is
// batched per chunk to save LLM calls; extraction stays per-message so one
// malformed reply cannot poison its neighbours. Messages are handled in
// mailbox order and one result is returned per input message.
func (e *Engine) ProcessBatch(ctx context.Context, userID, source string, msgs []*domain.CanonicalMessage) []*Result {
	size := e.batchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	results := make([]*Result, 0, len(msgs))
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		results = append(results, e.processChunk(ctx, userID, source, msgs[start:end])...)
	}
	return results
}

func (e *Engine) processChunk(ctx context.Context, userID, source string, msgs []*domain.CanonicalMessage) []*Result {
	started := make([]time.Time, len(msgs))
	results := make([]*Result, len(msgs))

	// Idempotency gate first: already-processed messages never reach the
	// classifier, so retried fetches cost nothing.
	var survivors []*domain.CanonicalMessage
	var survivorIdx []int
	for i, msg := range msgs {
		started[i] = time.Now()
		fingerprint := msg.Fingerprint()
		res := newResult(msg, fingerprint)
		results[i] = res

		existing, err := e.store.GetEmailLog(ctx, fingerprint)
		if err != nil {
			logger.Error("Idempotency lookup failed", "user_id", userID, "error", err)
			res.Status, res.Reason = ResultError, "idempotency_lookup"
			res.ProcessingTimeMS = time.Since(started[i]).Milliseconds()
			continue
		}
		if existing != nil {
			res.Status, res.Reason = ResultSkipped, "already_processed"
			res.ProcessingTimeMS = time.Since(started[i]).Milliseconds()
			continue
		}
		survivors = append(survivors, msg)
		survivorIdx = append(survivorIdx, i)
	}

	classifications := e.classifyBatch(ctx, survivors)

	for n, msg := range survivors {
		i := survivorIdx[n]
		if _, err := e.run(ctx, userID, source, msg, classifications[n], results[i], started[i]); err != nil {
			logger.Error("Message processing failed", "user_id", userID,
				"message_id", msg.MessageID, "reason", results[i].Reason, "error", err)
		}
	}
	return results
}

func (e *Engine) classifyBatch(ctx context.Context, msgs []*domain.CanonicalMessage) []llm.Classification {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) == 1 {
		return []llm.Classification{e.classify(ctx, msgs[0])}
	}

	in := make([]llm.ClassifyInput, len(msgs))
	for i, msg := range msgs {
		in[i] = llm.ClassifyInput{Sender: msg.SenderEmail, Subject: msg.Subject, Content: msg.Body}
	}

	out, err := e.llm.ClassifyBatch(ctx, in)
	if err != nil || len(out) != len(msgs) {
		logger.Error("Batch classification failed", "count", len(msgs), "error", err)
		out = make([]llm.Classification, len(msgs))
		for i := range out {
			out[i] = llm.Classification{Category: llm.CategoryUnknown, Reasoning: "classification error"}
		}
	}
	return out
}
