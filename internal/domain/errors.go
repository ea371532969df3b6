package domain

import "errors"

// Sentinel errors shared across the pipeline. Callers classify failures with
// errors.Is and decide whether to retry, skip, or surface them.
var (
	// ErrAuthExpired means a tenant's refresh credential no longer works and
	// the tenant must re-consent. Never retried automatically.
	ErrAuthExpired = errors.New("mailbox authorization expired")

	// ErrTransientFetch covers network and 5xx failures talking to the
	// mailbox provider. The poll cycle skips the tenant and leaves its
	// cursor untouched so the next cycle re-covers the window.
	ErrTransientFetch = errors.New("transient mailbox fetch failure")

	// ErrThrottled is returned after the model provider kept answering 429
	// through the whole backoff budget.
	ErrThrottled = errors.New("model provider throttled")

	// ErrExtractionParse means the model reply could not be read as the
	// expected JSON shape even after liberal parsing.
	ErrExtractionParse = errors.New("unparseable extraction reply")

	// ErrPersistence is a storage write failure for an individual entity.
	ErrPersistence = errors.New("entity write failed")

	// ErrIdempotencyWrite means the processed-marker write failed; the
	// message stays eligible for reprocessing.
	ErrIdempotencyWrite = errors.New("idempotency record write failed")

	// ErrClassifier is a classification call failure; the message is treated
	// as unclassifiable and skipped rather than blocking the batch.
	ErrClassifier = errors.New("classification failed")
)
