// Package service implements the users and messages services and the
// session authenticator. Each service composes its hook pipeline
// explicitly in its constructor.
package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/store"
)

// Event is a service event name.
type Event string

const (
	EventCreated Event = "created"
	EventUpdated Event = "updated"
	EventPatched Event = "patched"
	EventRemoved Event = "removed"
)

var methodEvents = map[hooks.Method]Event{
	hooks.Create: EventCreated,
	hooks.Update: EventUpdated,
	hooks.Patch:  EventPatched,
	hooks.Remove: EventRemoved,
}

// Publisher delivers service events to real-time subscribers. Publish must
// not block on slow subscribers; calls are made in commit order.
type Publisher interface {
	Publish(path string, event Event, data any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, Event, any) {}

// Paging bounds list queries.
type Paging struct {
	Default int
	Max     int
}

func (p Paging) clamp(q store.Query) store.Query {
	switch {
	case q.Limit <= 0:
		q.Limit = p.Default
	case p.Max > 0 && q.Limit > p.Max:
		q.Limit = p.Max
	}
	if q.Skip < 0 {
		q.Skip = 0
	}
	return q
}

// Options are shared by the services.
type Options struct {
	Logger    *slog.Logger
	Publisher Publisher
	Paging    Paging

	// EnforceOwnership restricts update, patch and remove to the record's
	// owner. Off by default: any authenticated caller may modify any record.
	EnforceOwnership bool

	Now func() time.Time
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Publisher == nil {
		o.Publisher = noopPublisher{}
	}
	if o.Paging.Default <= 0 {
		o.Paging.Default = 25
	}
	if o.Paging.Max < o.Paging.Default {
		o.Paging.Max = o.Paging.Default
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// storeError classifies store failures for the caller.
func storeError(err error, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("No record found for id '%s'", id)
	case errors.Is(err, store.ErrConflict):
		return &apperr.Error{Kind: apperr.KindConflict, Message: "Record already exists", Err: err}
	default:
		return apperr.Internal("store failure", err)
	}
}

func newCall(service string, method hooks.Method, id string, params *hooks.Params) *hooks.Call {
	if params == nil {
		params = &hooks.Params{}
	}
	return &hooks.Call{Service: service, Method: method, ID: id, Params: params}
}
