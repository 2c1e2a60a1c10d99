package remote

import (
	"linkgate/lib/api/cont"
	"net"
	"net/http"
	"strings"
)

// New stores the client address in the request context, preferring the
// first X-Forwarded-For entry set by a proxy.
func New() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(cont.PutRemoteAddr(r.Context(), Addr(r))))
		}
		return http.HandlerFunc(fn)
	}
}

func Addr(r *http.Request) string {
	if xRemote := r.Header.Get("X-Forwarded-For"); xRemote != "" {
		first, _, _ := strings.Cut(xRemote, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
