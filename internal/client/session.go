package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pliu/quasar-chat/internal/models"
)

// Session tracks the logged-in user. It starts unauthenticated; it becomes
// authenticated only once the user record behind a token has been fetched,
// and any failure to get there tears it back down.
type Session struct {
	client *Client

	mu              sync.RWMutex
	user            *models.User
	onAuthenticated []func(*models.User)
	onLogout        []func()
}

func NewSession(c *Client) *Session {
	return &Session{client: c}
}

func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) Authenticated() bool {
	return s.User() != nil
}

// OnAuthenticated registers fn to run after each successful login or
// re-authentication.
func (s *Session) OnAuthenticated(fn func(*models.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAuthenticated = append(s.onAuthenticated, fn)
}

// OnLogout registers fn to run when the session is torn down.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Register creates an account without logging in.
func (s *Session) Register(ctx context.Context, email, password string) (*models.User, error) {
	return s.client.Register(ctx, email, password)
}

// Login authenticates with email and password.
func (s *Session) Login(ctx context.Context, email, password string) (*models.User, error) {
	res, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.reset()
		return nil, err
	}
	return s.establish(ctx, res.AccessToken)
}

// Authenticate restores the session from the stored token.
func (s *Session) Authenticate(ctx context.Context) (*models.User, error) {
	res, err := s.client.Reauthenticate(ctx)
	if err != nil {
		s.reset()
		return nil, err
	}
	return s.establish(ctx, res.AccessToken)
}

// Signout ends the session locally even if the server call fails.
func (s *Session) Signout(ctx context.Context) error {
	err := s.client.Logout(ctx)
	s.teardown()
	return err
}

// establish fetches the user named by the token's subject.
func (s *Session) establish(ctx context.Context, accessToken string) (*models.User, error) {
	userID, err := tokenSubject(accessToken)
	if err != nil {
		s.reset()
		return nil, err
	}
	user, err := s.client.User(ctx, userID)
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("fetch user: %w", err)
	}

	s.mu.Lock()
	s.user = user
	callbacks := append([]func(*models.User){}, s.onAuthenticated...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(user)
	}
	return user, nil
}

// reset drops the user without signalling a logout.
func (s *Session) reset() {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.user = nil
	callbacks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// tokenSubject reads the user id from a token the server just issued. The
// signature is the server's concern; the client cannot check it.
func tokenSubject(accessToken string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("parse token: missing subject")
	}
	return claims.Subject, nil
}
