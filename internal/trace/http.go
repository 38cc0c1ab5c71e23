package trace

import "net/http"

// Middleware attaches a trace context to each request, continuing the
// caller's trace when x-trace-id is present, and echoes the id back.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := fromHeaders(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

func fromHeaders(h http.Header) Context {
	tc := Context{TraceID: h.Get(TraceIDKey), ParentSpanID: h.Get(SpanIDKey), SpanID: newSpanID()}
	if tc.TraceID == "" {
		tc.TraceID = newTraceID()
	}
	return tc
}
