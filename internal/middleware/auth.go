package middleware

import (
	"net/http"

	"github.com/pliu/quasar-chat/internal/auth"
)

// BearerToken puts the request's bearer token, if any, into the context.
// It never rejects a request; the services decide which calls need a
// verified caller.
func BearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := auth.BearerToken(r); token != "" {
			r = r.WithContext(auth.ContextWithToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}
