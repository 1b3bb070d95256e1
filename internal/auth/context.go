package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const tokenKey contextKey = "access_token"

// ContextWithToken stores the raw bearer token presented by the caller.
// It is not verified here.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the bearer token stored by ContextWithToken, or
// "" when none was presented.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// BearerToken extracts the token from "Authorization: Bearer <token>",
// falling back to the access_token query parameter used by socket
// clients that cannot set headers.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("access_token")
}
