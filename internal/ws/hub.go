// Package ws is the real-time channel: authenticated websocket clients,
// ordered service event fan-out, and socket-side service calls.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/service"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type string `json:"type"`
	ID   int64  `json:"id,omitempty"`

	Path       string        `json:"path,omitempty"`
	Event      service.Event `json:"event,omitempty"`
	Method     string        `json:"method,omitempty"`
	ResourceID string        `json:"resourceId,omitempty"`
	Query      *FrameQuery   `json:"query,omitempty"`

	Data  json.RawMessage `json:"data,omitempty"`
	Error *apperr.Payload `json:"error,omitempty"`

	// Credentials of an authenticate frame.
	Strategy    string `json:"strategy,omitempty"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

type FrameQuery struct {
	Limit int `json:"$limit,omitempty"`
	Skip  int `json:"$skip,omitempty"`
	Sort  struct {
		CreatedAt int `json:"createdAt,omitempty"`
	} `json:"$sort"`
}

const (
	FrameAuthenticate  = "authenticate"
	FrameAuthenticated = "authenticated"
	FrameEvent         = "event"
	FrameCall          = "call"
	FrameResult        = "result"
	FrameError         = "error"
)

var _ service.Publisher = (*Hub)(nil)

// Hub fans service events out to authenticated clients. Only clients that
// joined the authenticated channel are registered.
type Hub struct {
	// Authenticated clients.
	clients map[*Client]struct{}

	// Encoded event frames, in publish order.
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	// done is closed when Run returns.
	done chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client set until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			delete(h.clients, client)
		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					h.logger.Warn("dropping slow websocket client", slog.String("user_id", client.userID))
					delete(h.clients, client)
					client.close()
				}
			}
		case <-ctx.Done():
			for client := range h.clients {
				client.close()
			}
			return
		}
	}
}

// Publish encodes the event immediately and queues it for every
// authenticated client. It implements service.Publisher.
func (h *Hub) Publish(path string, event service.Event, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encode event failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	frame, err := json.Marshal(Frame{Type: FrameEvent, Path: path, Event: event, Data: payload})
	if err != nil {
		h.logger.Error("encode event failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
}

func (h *Hub) join(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
