package trace

import "net/http"

// Middleware gives every request a span. A traceparent header wins over x-trace-id.
// The trace id is echoed in the response so clients can quote it in bug reports.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceparentKey)
		if id == "" {
			id = r.Header.Get(TraceIDKey)
		}
		ctx := Join(r.Context(), id)
		tc, _ := FromContext(ctx)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
