package metrics

import "sync/atomic"

// Snapshot captures current in-memory counters.
type Snapshot struct {
	PaymentsCreatedLightning uint64
	PaymentsCreatedCoinbase  uint64
	PaymentsSettledWebhook   uint64
	PaymentsSettledPoll      uint64
	SettleDuplicates         uint64
	WebhooksRejected         uint64
	RateCacheHits            uint64
	RateCacheMisses          uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	paymentsCreatedLightning uint64
	paymentsCreatedCoinbase  uint64
	paymentsSettledWebhook   uint64
	paymentsSettledPoll      uint64
	settleDuplicates         uint64
	webhooksRejected         uint64
	rateCacheHits            uint64
	rateCacheMisses          uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		PaymentsCreatedLightning: atomic.LoadUint64(&m.paymentsCreatedLightning),
		PaymentsCreatedCoinbase:  atomic.LoadUint64(&m.paymentsCreatedCoinbase),
		PaymentsSettledWebhook:   atomic.LoadUint64(&m.paymentsSettledWebhook),
		PaymentsSettledPoll:      atomic.LoadUint64(&m.paymentsSettledPoll),
		SettleDuplicates:         atomic.LoadUint64(&m.settleDuplicates),
		WebhooksRejected:         atomic.LoadUint64(&m.webhooksRejected),
		RateCacheHits:            atomic.LoadUint64(&m.rateCacheHits),
		RateCacheMisses:          atomic.LoadUint64(&m.rateCacheMisses),
	}
}

// IncPaymentCreated increments the created counter for the method.
func (m *InMemoryRecorder) IncPaymentCreated(method string) {
	if method == "lightning" {
		atomic.AddUint64(&m.paymentsCreatedLightning, 1)
		return
	}
	atomic.AddUint64(&m.paymentsCreatedCoinbase, 1)
}

// IncPaymentSettled increments the settled counter for the path.
func (m *InMemoryRecorder) IncPaymentSettled(path string) {
	if path == "poll" {
		atomic.AddUint64(&m.paymentsSettledPoll, 1)
		return
	}
	atomic.AddUint64(&m.paymentsSettledWebhook, 1)
}

// IncSettleDuplicate increments the duplicate settlement counter.
func (m *InMemoryRecorder) IncSettleDuplicate() {
	atomic.AddUint64(&m.settleDuplicates, 1)
}

// IncWebhookRejected increments the rejected webhook counter.
func (m *InMemoryRecorder) IncWebhookRejected(method string) {
	atomic.AddUint64(&m.webhooksRejected, 1)
}

// IncRateCacheHit increments the rate cache hit counter.
func (m *InMemoryRecorder) IncRateCacheHit() {
	atomic.AddUint64(&m.rateCacheHits, 1)
}

// IncRateCacheMiss increments the rate cache miss counter.
func (m *InMemoryRecorder) IncRateCacheMiss() {
	atomic.AddUint64(&m.rateCacheMisses, 1)
}
