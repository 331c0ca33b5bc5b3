package middleware

import (
	"net/http"

	"github.com/nimbusevents/eventcenter/internal/obs/logger"
	"github.com/nimbusevents/eventcenter/internal/obs/metrics"
)

const panicMiddlewareMethodName = "PanicMiddleware"

// PanicRecovery recovers from a panic in next, logs and records it, and
// responds 500 instead of crashing the process.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rcv := recover(); rcv != nil {
				metrics.GetProvider().RecordPanic(panicMiddlewareMethodName)
				err := logger.HandlePanic(panicMiddlewareMethodName, rcv)
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
