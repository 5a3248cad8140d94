package metrics

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncPaymentCreated is a no-op.
func (n *NoopRecorder) IncPaymentCreated(method string) {}

// IncPaymentSettled is a no-op.
func (n *NoopRecorder) IncPaymentSettled(path string) {}

// IncSettleDuplicate is a no-op.
func (n *NoopRecorder) IncSettleDuplicate() {}

// IncWebhookRejected is a no-op.
func (n *NoopRecorder) IncWebhookRejected(method string) {}

// IncRateCacheHit is a no-op.
func (n *NoopRecorder) IncRateCacheHit() {}

// IncRateCacheMiss is a no-op.
func (n *NoopRecorder) IncRateCacheMiss() {}
