// Package errortracking reports unexpected errors and panics to an external
// tracking service, independent of the structured request logs in obs/logger.
package errortracking

import "context"

// Severity represents the severity level of a captured error or message.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityDebug   Severity = "debug"
)

// Provider defines the interface for error tracking backends.
type Provider interface {
	CaptureError(ctx context.Context, err error, severity Severity, extra map[string]interface{})
	CaptureMessage(ctx context.Context, message string, severity Severity, extra map[string]interface{})
	CapturePanic(ctx context.Context, recovered interface{}, stackTrace []byte, extra map[string]interface{})
	// Flush waits up to timeout seconds for queued events to be sent.
	Flush(timeout int) bool
	Close() error
}
