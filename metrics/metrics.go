// Package metrics defines the instrumentation hook for payment flows and a
// Prometheus-backed implementation of it.
package metrics

import "time"

// Recorder receives payment flow events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and latency names emitted by the payment client.
const (
	CounterPaymentAttempted = "payment_attempted"
	CounterPaymentSettled   = "payment_settled"
	CounterPaymentRejected  = "payment_rejected"
	CounterPaymentFailed    = "payment_failed"

	LatencyFetch = "fetch"
	LatencySign  = "sign"
)

// Noop is a Recorder that drops everything. It is the default.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string) {}

func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}
