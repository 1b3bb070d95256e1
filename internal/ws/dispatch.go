package ws

import (
	"context"
	"encoding/json"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/service"
	"github.com/pliu/quasar-chat/internal/store"
)

// Dispatcher routes socket service calls to the services.
type Dispatcher struct {
	users    *service.UserService
	messages *service.MessageService
	authn    *service.Authenticator
}

func NewDispatcher(users *service.UserService, messages *service.MessageService, authn *service.Authenticator) *Dispatcher {
	return &Dispatcher{users: users, messages: messages, authn: authn}
}

// Dispatch runs one call frame with params.
func (d *Dispatcher) Dispatch(ctx context.Context, f Frame, params *hooks.Params) (any, error) {
	if f.Query != nil {
		params.Query = store.Query{Limit: f.Query.Limit, Skip: f.Query.Skip, Desc: f.Query.Sort.CreatedAt < 0}
	}

	switch f.Path {
	case service.UsersPath:
		return dispatchUsers(ctx, d.users, f, params)
	case service.MessagesPath:
		return dispatchMessages(ctx, d.messages, f, params)
	default:
		return nil, apperr.NotFound("Service '%s' does not exist", f.Path)
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperr.Validation("malformed data")
	}
	return v, nil
}

func dispatchUsers(ctx context.Context, svc *service.UserService, f Frame, params *hooks.Params) (any, error) {
	switch hooks.Method(f.Method) {
	case hooks.Find:
		return svc.Find(ctx, params)
	case hooks.Get:
		return svc.Get(ctx, f.ResourceID, params)
	case hooks.Remove:
		return svc.Remove(ctx, f.ResourceID, params)
	case hooks.Create, hooks.Update, hooks.Patch:
		data, err := decode[models.UserInput](f.Data)
		if err != nil {
			return nil, err
		}
		switch hooks.Method(f.Method) {
		case hooks.Create:
			return svc.Create(ctx, data, params)
		case hooks.Update:
			return svc.Update(ctx, f.ResourceID, data, params)
		default:
			return svc.Patch(ctx, f.ResourceID, data, params)
		}
	}
	return nil, apperr.Validation("unknown method %q", f.Method)
}

func dispatchMessages(ctx context.Context, svc *service.MessageService, f Frame, params *hooks.Params) (any, error) {
	switch hooks.Method(f.Method) {
	case hooks.Find:
		return svc.Find(ctx, params)
	case hooks.Get:
		return svc.Get(ctx, f.ResourceID, params)
	case hooks.Remove:
		return svc.Remove(ctx, f.ResourceID, params)
	case hooks.Create, hooks.Update, hooks.Patch:
		data, err := decode[models.MessageInput](f.Data)
		if err != nil {
			return nil, err
		}
		switch hooks.Method(f.Method) {
		case hooks.Create:
			return svc.Create(ctx, data, params)
		case hooks.Update:
			return svc.Update(ctx, f.ResourceID, data, params)
		default:
			return svc.Patch(ctx, f.ResourceID, data, params)
		}
	}
	return nil, apperr.Validation("unknown method %q", f.Method)
}
