// Package metrics exposes a Provider abstraction over Prometheus so every
// HTTP handler, dispatch, and registration path records through the same
// interface regardless of which concrete backend is wired in.
package metrics

import (
	"net/http"
	"time"
)

// Provider defines every metric this service records. Unlike a provider
// interface that only declares the generic HTTP/cache surface and leaves
// domain-specific methods to be called on whatever concrete type happens to
// satisfy it, every method callers actually invoke is declared here, so a
// substitute (NoOpProvider, a test mock) always compiles against the full
// set.
type Provider interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncRequestsInFlight()
	DecRequestsInFlight()

	RecordEventPublished(channel, eventName string)
	RecordEventProcessed(channel, eventName, status string, duration time.Duration)
	RecordCallbackAttempt(channel, status string, duration time.Duration)
	RecordRegistrationChurn(op string)
	UpdateActiveRegistrants(count int64)
	RecordSnapshotWrite(status string)
	RecordPanic(methodName string)

	// Handler exposes the metrics in whatever wire format the backend uses
	// (Prometheus exposition format for PrometheusProvider).
	Handler() http.Handler
}

var globalProvider Provider

func SetProvider(p Provider) { globalProvider = p }

func GetProvider() Provider {
	if globalProvider == nil {
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider discards every metric. Used in tests and when metrics are
// disabled.
type NoOpProvider struct{}

func (n *NoOpProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoOpProvider) IncRequestsInFlight()                                                  {}
func (n *NoOpProvider) DecRequestsInFlight()                                                  {}
func (n *NoOpProvider) RecordEventPublished(channel, eventName string)                        {}
func (n *NoOpProvider) RecordEventProcessed(channel, eventName, status string, duration time.Duration) {
}
func (n *NoOpProvider) RecordCallbackAttempt(channel, status string, duration time.Duration) {}
func (n *NoOpProvider) RecordRegistrationChurn(op string)                                    {}
func (n *NoOpProvider) UpdateActiveRegistrants(count int64)                                  {}
func (n *NoOpProvider) RecordSnapshotWrite(status string)                                    {}
func (n *NoOpProvider) RecordPanic(methodName string)                                        {}
func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("metrics provider not configured"))
	})
}
