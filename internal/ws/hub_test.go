package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/quasar-chat/internal/auth"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/service"
	"github.com/pliu/quasar-chat/internal/store/sqlstore"
)

type testServer struct {
	url      string
	hub      *Hub
	users    *service.UserService
	messages *service.MessageService
	authn    *service.Authenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	hasher := auth.NewHasher(bcrypt.MinCost)
	tokens := auth.NewTokens([]byte("test-secret"), "feathers-chat", time.Hour)
	opts := service.Options{Logger: logger, Publisher: hub}
	users := service.NewUserService(s, hasher, auth.NewAvatarResolver(200), tokens, opts)
	messages := service.NewMessageService(s, tokens, 400, opts)
	authn, err := service.NewAuthenticator(s, hasher, tokens, logger)
	require.NoError(t, err)

	dispatcher := NewDispatcher(users, messages, authn)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, dispatcher, w, r)
	}))
	t.Cleanup(srv.Close)

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		hub:      hub,
		users:    users,
		messages: messages,
		authn:    authn,
	}
}

func (ts *testServer) signup(t *testing.T, email string) (*models.User, string) {
	t.Helper()
	ctx := context.Background()
	user, err := ts.users.Create(ctx, models.UserInput{Email: email, Password: "secret"}, nil)
	require.NoError(t, err)
	res, err := ts.authn.Authenticate(ctx, service.Credentials{Strategy: service.StrategyLocal, Email: email, Password: "secret"}, nil)
	require.NoError(t, err)
	return user, res.AccessToken
}

func dial(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialAuthenticated connects with the token on the query string and waits
// for the authenticated frame.
func (ts *testServer) dialAuthenticated(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn := dial(t, ts.url+"?access_token="+url.QueryEscape(token))
	f := readFrame(t, conn)
	require.Equal(t, FrameAuthenticated, f.Type)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestAuthenticatedClientReceivesEvents(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "a@x.com")
	conn := ts.dialAuthenticated(t, token)

	msg, err := ts.messages.Create(context.Background(), models.MessageInput{Body: "hello"}, &hooks.Params{AccessToken: token})
	require.NoError(t, err)

	f := readFrame(t, conn)
	require.Equal(t, FrameEvent, f.Type)
	require.Equal(t, service.MessagesPath, f.Path)
	require.Equal(t, service.EventCreated, f.Event)

	var got models.Message
	require.NoError(t, json.Unmarshal(f.Data, &got))
	require.Equal(t, msg.ID, got.ID)
	require.Equal(t, "hello", got.Body)
	require.NotNil(t, got.User)
	require.Equal(t, "a@x.com", got.User.Email)
}

func TestUnauthenticatedClientReceivesNothing(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "a@x.com")
	anon := dial(t, ts.url)
	authed := ts.dialAuthenticated(t, token)

	_, err := ts.messages.Create(context.Background(), models.MessageInput{Body: "secret"}, &hooks.Params{AccessToken: token})
	require.NoError(t, err)

	// The authenticated client got it, so the broadcast has been fanned out.
	require.Equal(t, FrameEvent, readFrame(t, authed).Type)

	require.NoError(t, anon.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var f Frame
	err = anon.ReadJSON(&f)
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}

func TestUserEventsAreProtected(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "a@x.com")
	conn := ts.dialAuthenticated(t, token)

	_, err := ts.users.Create(context.Background(), models.UserInput{Email: "b@x.com", Password: "secret"}, nil)
	require.NoError(t, err)

	f := readFrame(t, conn)
	require.Equal(t, service.UsersPath, f.Path)
	require.NotContains(t, string(f.Data), "password")
}

func TestAuthenticateFrame(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.signup(t, "a@x.com")
	conn := dial(t, ts.url)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameAuthenticate, ID: 1, Strategy: service.StrategyLocal, Email: "a@x.com", Password: "wrong"}))
	f := readFrame(t, conn)
	require.Equal(t, FrameError, f.Type)
	require.Equal(t, int64(1), f.ID)
	require.Equal(t, "NotAuthenticated", f.Error.Name)
	require.Equal(t, 401, f.Error.Code)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameAuthenticate, ID: 2, Strategy: service.StrategyLocal, Email: "a@x.com", Password: "secret"}))
	f = readFrame(t, conn)
	require.Equal(t, FrameAuthenticated, f.Type)

	var res service.AuthResult
	require.NoError(t, json.Unmarshal(f.Data, &res))
	require.NotEmpty(t, res.AccessToken)
	require.Equal(t, user.ID, res.User.ID)
	require.Empty(t, res.User.Password)

	// Joined: the client now receives events.
	_, err := ts.messages.Create(context.Background(), models.MessageInput{Body: "hi"}, &hooks.Params{AccessToken: res.AccessToken})
	require.NoError(t, err)
	require.Equal(t, FrameEvent, readFrame(t, conn).Type)
}

func TestCallFrames(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.signup(t, "a@x.com")
	_, bobToken := ts.signup(t, "b@x.com")
	aliceConn := ts.dialAuthenticated(t, aliceToken)
	bobConn := ts.dialAuthenticated(t, bobToken)

	require.NoError(t, aliceConn.WriteJSON(Frame{
		Type:   FrameCall,
		ID:     7,
		Path:   service.MessagesPath,
		Method: "create",
		Data:   json.RawMessage(`{"body":"  via socket ","userId":"forged"}`),
	}))

	// Bob sees the event; Alice sees the event and her result in some order.
	ev := readFrame(t, bobConn)
	require.Equal(t, FrameEvent, ev.Type)

	var result Frame
	for i := 0; i < 2; i++ {
		f := readFrame(t, aliceConn)
		if f.Type == FrameResult {
			result = f
		}
	}
	require.Equal(t, int64(7), result.ID)
	var msg models.Message
	require.NoError(t, json.Unmarshal(result.Data, &msg))
	require.Equal(t, "via socket", msg.Body)
	require.Equal(t, alice.ID, msg.UserID)

	require.NoError(t, aliceConn.WriteJSON(Frame{Type: FrameCall, ID: 8, Path: "nope", Method: "find"}))
	f := readFrame(t, aliceConn)
	require.Equal(t, FrameError, f.Type)
	require.Equal(t, 404, f.Error.Code)
}

func TestCallFrameRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts.url)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameCall, ID: 3, Path: service.MessagesPath, Method: "find"}))
	f := readFrame(t, conn)
	require.Equal(t, FrameError, f.Type)
	require.Equal(t, int64(3), f.ID)
	require.Equal(t, 401, f.Error.Code)
}

func TestEventsArriveInCommitOrder(t *testing.T) {
	ts := newTestServer(t)
	_, aliceToken := ts.signup(t, "a@x.com")
	_, bobToken := ts.signup(t, "b@x.com")
	conns := []*websocket.Conn{ts.dialAuthenticated(t, aliceToken), ts.dialAuthenticated(t, bobToken)}

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			token := aliceToken
			if i%2 == 1 {
				token = bobToken
			}
			_, err := ts.messages.Create(context.Background(), models.MessageInput{Body: fmt.Sprintf("m%d", i)}, &hooks.Params{AccessToken: token})
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	stored, err := ts.messages.Find(context.Background(), &hooks.Params{AccessToken: aliceToken})
	require.NoError(t, err)
	require.Len(t, stored, n)

	for _, conn := range conns {
		for i := 0; i < n; i++ {
			f := readFrame(t, conn)
			var msg models.Message
			require.NoError(t, json.Unmarshal(f.Data, &msg))
			require.Equal(t, stored[i].ID, msg.ID)
		}
	}
}

func TestPublishAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.Publish(service.MessagesPath, service.EventCreated, map[string]int{"i": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after the hub stopped")
	}
}
