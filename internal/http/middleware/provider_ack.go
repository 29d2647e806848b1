package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

// Canned acknowledgement bodies for the webhook providers.
const (
	AckTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	AckJSON  = `{"received": true}`
)

// ProviderAck converts a panic anywhere below it into an HTTP 200 with the
// given acknowledgement body. Providers retry non-2xx responses, and a retried
// delivery would repeat side effects; an internal crash is logged loudly and
// acknowledged silently.
func ProviderAck(logger *logging.Logger, contentType, ackBody string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ack := &ackWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				logger.Error("panic in webhook handler",
					"error", fmt.Sprint(rec),
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				if ack.wroteHeader {
					return
				}
				w.Header().Set("Content-Type", contentType)
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(ackBody))
			}()
			next.ServeHTTP(ack, r)
		})
	}
}

// ackWriter tracks whether the handler already committed a response, since a
// recovered panic can only substitute the acknowledgement before that point.
type ackWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *ackWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *ackWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
