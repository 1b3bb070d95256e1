package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/auth"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/store"
)

const (
	StrategyLocal = "local"
	StrategyJWT   = "jwt"

	invalidLogin = "Invalid login"
)

// Credentials is the body of an authentication request.
type Credentials struct {
	Strategy    string `json:"strategy"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// AuthResult is returned on successful authentication.
type AuthResult struct {
	AccessToken string       `json:"accessToken"`
	User        *models.User `json:"user"`
}

type TokenIssuer interface {
	Issue(userID string) (string, error)
	Verify(token string) (*auth.Payload, error)
}

// Authenticator validates credentials and issues session tokens. It reads
// password digests straight from the store, never through the protected
// users service path.
type Authenticator struct {
	store  store.Store
	hasher PasswordHasher
	tokens TokenIssuer
	logger *slog.Logger

	// dummyDigest is compared against when the email is unknown so the
	// response time does not reveal whether the account exists.
	dummyDigest string
}

func NewAuthenticator(s store.Store, hasher PasswordHasher, tokens TokenIssuer, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dummy, err := hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &Authenticator{store: s, hasher: hasher, tokens: tokens, logger: logger, dummyDigest: dummy}, nil
}

// Authenticate runs the requested strategy and returns a fresh token.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials, params *hooks.Params) (*AuthResult, error) {
	if params == nil {
		params = &hooks.Params{}
	}

	var (
		user *models.User
		err  error
	)
	switch creds.Strategy {
	case StrategyLocal:
		user, err = a.local(ctx, creds)
	case StrategyJWT:
		user, err = a.jwt(ctx, creds)
	case "":
		return nil, apperr.Validation("strategy is required")
	default:
		return nil, apperr.Validation("unknown authentication strategy %q", creds.Strategy)
	}
	if err != nil {
		return nil, err
	}

	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}

	if params.External() {
		user = protectUser(user)
	}
	a.logger.InfoContext(ctx, "authentication successful",
		slog.String("strategy", creds.Strategy),
		slog.String("user_id", user.ID),
	)
	return &AuthResult{AccessToken: token, User: user}, nil
}

func (a *Authenticator) local(ctx context.Context, creds Credentials) (*models.User, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, apperr.Authentication(invalidLogin, errors.New("missing email or password"))
	}

	user, err := a.store.GetUserByEmail(ctx, normalizeEmail(creds.Email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Internal("lookup user", err)
		}
		a.hasher.Verify(creds.Password, a.dummyDigest)
		a.logger.WarnContext(ctx, "authentication failed", slog.String("reason", "unknown_email"))
		return nil, apperr.Authentication(invalidLogin, err)
	}

	if !a.hasher.Verify(creds.Password, user.Password) {
		a.logger.WarnContext(ctx, "authentication failed", slog.String("reason", "password_mismatch"))
		return nil, apperr.Authentication(invalidLogin, errors.New("password mismatch"))
	}
	return user, nil
}

// jwt refreshes a still-valid token. The user must still exist.
func (a *Authenticator) jwt(ctx context.Context, creds Credentials) (*models.User, error) {
	userID, err := a.Verify(creds.AccessToken)
	if err != nil {
		return nil, err
	}
	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Authentication(apperr.NotAuthenticated, err)
		}
		return nil, apperr.Internal("lookup user", err)
	}
	return user, nil
}

// Verify returns the user id bound to token.
func (a *Authenticator) Verify(token string) (string, error) {
	payload, err := a.tokens.Verify(token)
	if err != nil {
		return "", apperr.Authentication(apperr.NotAuthenticated, err)
	}
	return payload.UserID, nil
}

func protectUser(u *models.User) *models.User {
	cp := *u
	cp.Password = ""
	return &cp
}
