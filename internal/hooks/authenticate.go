package hooks

import (
	"context"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/auth"
)

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Payload, error)
}

// Authenticate requires a verified caller. A presented token is always
// verified and its subject becomes Params.UserID. Without a token only
// internal calls that already name a user pass.
func Authenticate[T any](v TokenVerifier) Before[T] {
	return func(_ context.Context, call *Call, _ *T) error {
		p := call.Params
		if p.AccessToken != "" {
			payload, err := v.Verify(p.AccessToken)
			if err != nil {
				return apperr.Authentication(apperr.NotAuthenticated, err)
			}
			p.UserID = payload.UserID
			return nil
		}
		if !p.External() && p.UserID != "" {
			return nil
		}
		p.UserID = ""
		return apperr.Authentication(apperr.NotAuthenticated, nil)
	}
}
