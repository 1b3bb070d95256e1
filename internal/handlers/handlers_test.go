package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/auth"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/service"
	"github.com/pliu/quasar-chat/internal/store/sqlstore"
	"github.com/pliu/quasar-chat/internal/ws"
)

func newTestRouter(t *testing.T, staticDir string) http.Handler {
	t.Helper()
	s, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newRouterWithStore(t, s, staticDir)
}

func newRouterWithStore(t *testing.T, s *sqlstore.SQLStore, staticDir string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	hasher := auth.NewHasher(bcrypt.MinCost)
	tokens := auth.NewTokens([]byte("test-secret"), "feathers-chat", time.Hour)
	opts := service.Options{Logger: logger, Publisher: hub, Paging: service.Paging{Default: 2, Max: 3}}
	users := service.NewUserService(s, hasher, auth.NewAvatarResolver(200), tokens, opts)
	messages := service.NewMessageService(s, tokens, 400, opts)
	authn, err := service.NewAuthenticator(s, hasher, tokens, logger)
	require.NoError(t, err)

	return NewRouter(Deps{
		Users:       users,
		Messages:    messages,
		Auth:        authn,
		Store:       s,
		Hub:         hub,
		Dispatcher:  ws.NewDispatcher(users, messages, authn),
		Logger:      logger,
		CORSOrigins: []string{"*"},
		StaticDir:   staticDir,
	})
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func signup(t *testing.T, h http.Handler, email string) (*models.User, string) {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/users", "", map[string]string{"email": email, "password": "secret"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	user := decode[*models.User](t, rr)

	rr = do(t, h, http.MethodPost, "/authentication", "", map[string]string{"strategy": "local", "email": email, "password": "secret"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return user, decode[service.AuthResult](t, rr).AccessToken
}

func TestSignupAndLogin(t *testing.T) {
	h := newTestRouter(t, "")

	rr := do(t, h, http.MethodPost, "/users", "", map[string]string{"email": "a@x.com", "password": "secret"})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotContains(t, rr.Body.String(), "password")
	user := decode[*models.User](t, rr)
	require.Equal(t, "a@x.com", user.Email)
	require.Contains(t, user.Avatar, "gravatar.com/avatar/")

	rr = do(t, h, http.MethodPost, "/authentication", "", map[string]string{"strategy": "local", "email": "a@x.com", "password": "secret"})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotContains(t, rr.Body.String(), "password")
	res := decode[service.AuthResult](t, rr)
	require.NotEmpty(t, res.AccessToken)
	require.Equal(t, user.ID, res.User.ID)

	rr = do(t, h, http.MethodPost, "/authentication", "", map[string]string{"strategy": "jwt", "accessToken": res.AccessToken})
	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestLoginFailure(t *testing.T) {
	h := newTestRouter(t, "")
	signup(t, h, "a@x.com")

	for _, body := range []map[string]string{
		{"strategy": "local", "email": "a@x.com", "password": "wrong"},
		{"strategy": "local", "email": "nobody@x.com", "password": "secret"},
	} {
		rr := do(t, h, http.MethodPost, "/authentication", "", body)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		p := decode[apperr.Payload](t, rr)
		require.Equal(t, "NotAuthenticated", p.Name)
		require.Equal(t, "Invalid login", p.Message)
		require.Equal(t, "not-authenticated", p.ClassName)
	}

	rr := do(t, h, http.MethodPost, "/authentication", "", map[string]string{"strategy": "magic"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSignupErrors(t *testing.T) {
	h := newTestRouter(t, "")
	signup(t, h, "a@x.com")

	rr := do(t, h, http.MethodPost, "/users", "", map[string]string{"email": "a@x.com", "password": "again"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/users", "", map[string]string{"email": "bad", "password": "x"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "BadRequest", decode[apperr.Payload](t, rr).Name)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	h := newTestRouter(t, "")
	_, token := signup(t, h, "a@x.com")

	rr := do(t, h, http.MethodDelete, "/authentication", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, token, decode[map[string]string](t, rr)["accessToken"])

	rr = do(t, h, http.MethodDelete, "/authentication", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	missing := decode[apperr.Payload](t, rr)

	rr = do(t, h, http.MethodDelete, "/authentication", "bogus", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, missing, decode[apperr.Payload](t, rr))
	require.Equal(t, apperr.NotAuthenticated, missing.Message)
}

func TestUsersRequireAuthentication(t *testing.T) {
	h := newTestRouter(t, "")
	user, token := signup(t, h, "a@x.com")

	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/users", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/users/"+user.ID, "bogus", nil).Code)

	rr := do(t, h, http.MethodGet, "/users", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotContains(t, rr.Body.String(), "password")
	require.Len(t, decode[[]*models.User](t, rr), 1)

	rr = do(t, h, http.MethodGet, "/users/"+user.ID, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/users/missing", token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NotFound", decode[apperr.Payload](t, rr).Name)
}

func TestUserPatchAndRemove(t *testing.T) {
	h := newTestRouter(t, "")
	user, token := signup(t, h, "a@x.com")

	rr := do(t, h, http.MethodPatch, "/users/"+user.ID, token, map[string]string{"email": "b@x.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "b@x.com", decode[*models.User](t, rr).Email)

	rr = do(t, h, http.MethodPut, "/users/"+user.ID, token, map[string]string{"email": "c@x.com", "password": "new"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodDelete, "/users/"+user.ID, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotContains(t, rr.Body.String(), "password")
}

func TestMessagesFlow(t *testing.T) {
	h := newTestRouter(t, "")
	alice, token := signup(t, h, "a@x.com")

	rr := do(t, h, http.MethodPost, "/messages", "", map[string]string{"body": "hi"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/messages", token, map[string]string{"body": "   "})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var ids []string
	for _, body := range []string{"one", "two", "three", "four"} {
		rr = do(t, h, http.MethodPost, "/messages", token, map[string]string{"body": body, "userId": "forged"})
		require.Equal(t, http.StatusCreated, rr.Code)
		msg := decode[*models.Message](t, rr)
		require.Equal(t, alice.ID, msg.UserID)
		require.Equal(t, "a@x.com", msg.User.Email)
		ids = append(ids, msg.ID)
	}

	// MAX_PAGE_SIZE is 3 in this router.
	rr = do(t, h, http.MethodGet, "/messages?$limit=50", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]*models.Message](t, rr)
	require.Len(t, list, 3)
	require.Equal(t, "one", list[0].Body)

	rr = do(t, h, http.MethodGet, "/messages?$sort[createdAt]=-1&$limit=2&$skip=1", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list = decode[[]*models.Message](t, rr)
	require.Len(t, list, 2)
	require.Equal(t, "three", list[0].Body)
	require.Equal(t, "two", list[1].Body)

	rr = do(t, h, http.MethodGet, "/messages?$limit=abc", token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPatch, "/messages/"+ids[0], token, map[string]string{"body": "edited"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "edited", decode[*models.Message](t, rr).Body)

	rr = do(t, h, http.MethodDelete, "/messages/"+ids[0], token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodGet, "/messages/"+ids[0], token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/messages?$limit=10&$skip=5&$sort[createdAt]=-1", nil)
	q, err := parseQuery(req)
	require.NoError(t, err)
	require.Equal(t, 10, q.Limit)
	require.Equal(t, 5, q.Skip)
	require.True(t, q.Desc)

	for _, raw := range []string{"$limit=-1", "$skip=x", "$sort[createdAt]=2"} {
		_, err := parseQuery(httptest.NewRequest(http.MethodGet, "/messages?"+raw, nil))
		require.ErrorIs(t, err, apperr.ErrValidation, raw)
	}
}

func TestHealth(t *testing.T) {
	s, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	h := newRouterWithStore(t, s, "")

	rr := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", decode[map[string]string](t, rr)["status"])

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", nil).Code)

	require.NoError(t, s.Close())
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz", "", nil).Code)
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestRouter(t, "")
	rr := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	h := newTestRouter(t, dir)

	rr := do(t, h, http.MethodGet, "/app.js", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "console.log(1)", rr.Body.String())
	require.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

	rr = do(t, h, http.MethodGet, "/chat", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "app")

	// API routes still win over the SPA fallback.
	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/messages", "", nil).Code)

	// Only GET and HEAD fall back to the app.
	for _, method := range []string{http.MethodPost, http.MethodDelete, http.MethodPut} {
		rr = do(t, h, method, "/nope", "", nil)
		require.Equal(t, http.StatusNotFound, rr.Code, method)
		require.Equal(t, "NotFound", decode[apperr.Payload](t, rr).Name, method)
	}
}

func TestUnknownRouteWithoutStatic(t *testing.T) {
	h := newTestRouter(t, "")

	rr := do(t, h, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	p := decode[apperr.Payload](t, rr)
	require.Equal(t, "NotFound", p.Name)
	require.Equal(t, 404, p.Code)
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rr, req, slog.New(slog.NewTextHandler(io.Discard, nil)), apperr.Internal("store failure", errors.New("disk on fire")))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "disk on fire")
	require.Equal(t, "GeneralError", decode[apperr.Payload](t, rr).Name)
}
