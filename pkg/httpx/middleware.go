package httpx

import "net/http"

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware listed sees the request first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LoopbackOnly rejects requests that did not originate from the local host.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(RemoteIP(r)) {
			WriteError(w, http.StatusForbidden, "forbidden", "status API is only served to local clients")
			return
		}
		next.ServeHTTP(w, r)
	})
}
