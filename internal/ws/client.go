package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/auth"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one websocket connection. Its token and user are owned by the
// read goroutine; the hub only reads userID between join and leave.
type Client struct {
	hub        *Hub
	dispatcher *Dispatcher
	conn       *websocket.Conn
	logger     *slog.Logger

	send chan []byte

	accessToken string
	userID      string
	joined      bool

	done      chan struct{}
	closeOnce sync.Once
}

// ServeWs upgrades the request and serves the connection until it closes.
// A bearer token on the upgrade request authenticates the socket right away.
func ServeWs(hub *Hub, dispatcher *Dispatcher, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &Client{
		hub:        hub,
		dispatcher: dispatcher,
		conn:       conn,
		logger:     hub.logger,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
	go client.writePump()

	if token := auth.BearerToken(r); token != "" {
		client.authenticate(context.Background(), Frame{Strategy: service.StrategyJWT, AccessToken: token})
	}
	client.readPump()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// reply queues a frame for this client only. A full buffer disconnects it.
func (c *Client) reply(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("encode frame failed", slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		c.close()
	}
}

func (c *Client) replyError(id int64, err error) {
	p := apperr.ToPayload(err)
	c.reply(Frame{Type: FrameError, ID: id, Error: &p})
}

func (c *Client) readPump() {
	defer func() {
		if c.joined {
			c.hub.leave(c)
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.replyError(0, apperr.Validation("malformed frame"))
			continue
		}

		ctx := context.Background()
		switch frame.Type {
		case FrameAuthenticate:
			c.authenticate(ctx, frame)
		case FrameCall:
			c.call(ctx, frame)
		default:
			c.replyError(frame.ID, apperr.Validation("unknown frame type %q", frame.Type))
		}
	}
}

// authenticate runs the credentials through the authenticator. Success
// joins the authenticated channel; failure leaves it.
func (c *Client) authenticate(ctx context.Context, frame Frame) {
	creds := service.Credentials{
		Strategy:    frame.Strategy,
		Email:       frame.Email,
		Password:    frame.Password,
		AccessToken: frame.AccessToken,
	}
	if creds.Strategy == "" && creds.AccessToken != "" {
		creds.Strategy = service.StrategyJWT
	}

	res, err := c.dispatcher.authn.Authenticate(ctx, creds, &hooks.Params{Provider: hooks.ProviderSocket})
	if c.joined {
		c.hub.leave(c)
		c.joined = false
	}
	if err != nil {
		c.accessToken, c.userID = "", ""
		c.replyError(frame.ID, err)
		return
	}

	c.accessToken, c.userID = res.AccessToken, res.User.ID
	c.hub.join(c)
	c.joined = true

	data, err := json.Marshal(res)
	if err != nil {
		c.replyError(frame.ID, apperr.Internal("encode result", err))
		return
	}
	c.reply(Frame{Type: FrameAuthenticated, ID: frame.ID, Data: data})
}

func (c *Client) call(ctx context.Context, frame Frame) {
	params := &hooks.Params{Provider: hooks.ProviderSocket, AccessToken: c.accessToken}
	result, err := c.dispatcher.Dispatch(ctx, frame, params)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			c.logger.Error("socket call failed",
				slog.String("path", frame.Path),
				slog.String("method", frame.Method),
				slog.String("error", err.Error()),
			)
		}
		c.replyError(frame.ID, err)
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.replyError(frame.ID, apperr.Internal("encode result", err))
		return
	}
	c.reply(Frame{Type: FrameResult, ID: frame.ID, Data: data})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				}
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
