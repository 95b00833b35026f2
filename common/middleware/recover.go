package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicHandler writes the response for a recovered panic.
type PanicHandler func(w http.ResponseWriter, r *http.Request, recovered any)

// Recover turns handler panics into a response produced by onPanic and logs
// the stack. http.ErrAbortHandler is re-raised so the server can drop the
// connection as usual.
func Recover(logger *slog.Logger, onPanic PanicHandler) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic in handler",
					slog.Any("panic", rec),
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("stack", string(debug.Stack())))
				onPanic(w, r, rec)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
