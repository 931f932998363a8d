package device

import (
	"fmt"
	"net/http"

	"github.com/mssola/useragent"
)

// Middleware parses the request User-Agent and stores a short device
// description in the context. Decision audit entries record it so reviews
// can be traced back to the submitting client.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.UserAgent()
		if ua != "" {
			parsed := useragent.New(ua)
			name, version := parsed.Browser()
			desc := fmt.Sprintf("%s %s (%s)", name, version, parsed.OS())
			r = r.WithContext(WithDescription(r.Context(), desc))
		}
		next.ServeHTTP(w, r)
	})
}
