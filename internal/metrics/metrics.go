// Package metrics provides lightweight hooks for instrumentation.
package metrics

// Recorder receives domain events for instrumentation.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// IncPaymentCreated counts payment requests created, by method.
	IncPaymentCreated(method string)
	// IncPaymentSettled counts credit grants, by reconciliation path ("webhook" or "poll").
	IncPaymentSettled(path string)
	// IncSettleDuplicate counts settlement attempts suppressed by the idempotency guard.
	IncSettleDuplicate()
	// IncWebhookRejected counts webhooks rejected as malformed or unauthenticated, by method.
	IncWebhookRejected(method string)
	// IncRateCacheHit counts conversions served from the cached exchange rate.
	IncRateCacheHit()
	// IncRateCacheMiss counts conversions that triggered an upstream rate fetch.
	IncRateCacheMiss()
}
