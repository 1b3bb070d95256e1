package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/store"
)

const MessagesPath = "messages"

// UserLookup is the slice of the credential store the populator needs.
type UserLookup interface {
	GetUsersByIDs(ctx context.Context, ids []string) ([]*models.User, error)
}

// MessageService owns chat messages.
type MessageService struct {
	store    store.Store
	opts     Options
	pipeline *hooks.Pipeline[models.MessageInput, *models.Message]

	// mu serializes writes so events are published in commit order.
	mu sync.Mutex
}

func NewMessageService(s store.Store, tokens hooks.TokenVerifier, maxLength int, opts Options) *MessageService {
	opts.defaults()
	svc := &MessageService{store: s, opts: opts}

	p := hooks.NewPipeline[models.MessageInput, *models.Message]().
		Before(hooks.Authenticate[models.MessageInput](tokens))
	if opts.EnforceOwnership {
		p.Before(svc.restrictToAuthor, hooks.Update, hooks.Patch, hooks.Remove)
	}
	p.Before(ProcessMessage(maxLength, opts.Now), hooks.Create, hooks.Update, hooks.Patch).
		After(Populate(s, opts.Logger))

	svc.pipeline = p
	return svc
}

// ProcessMessage validates and normalizes the body and stamps the author
// from the verified session. Bodies are trimmed and cut to maxLength runes.
func ProcessMessage(maxLength int, now func() time.Time) hooks.Before[models.MessageInput] {
	return func(_ context.Context, call *hooks.Call, data *models.MessageInput) error {
		body := strings.TrimSpace(data.Body)
		if body == "" {
			return apperr.Validation("body is required")
		}
		if maxLength > 0 && utf8.RuneCountInString(body) > maxLength {
			body = strings.TrimSpace(string([]rune(body)[:maxLength]))
		}
		data.Body = body
		data.UserID = call.Params.UserID
		data.CreatedAt = now().UTC()
		return nil
	}
}

// Populate attaches each message's author profile under "user". Authors
// are fetched with one batched lookup; a missing author or a failed lookup
// leaves the field empty instead of failing the read.
func Populate(users UserLookup, logger *slog.Logger) hooks.After[*models.Message] {
	return func(ctx context.Context, _ *hooks.Call, records []*models.Message) ([]*models.Message, error) {
		if len(records) == 0 {
			return records, nil
		}
		ids := lo.Uniq(lo.Map(records, func(m *models.Message, _ int) string { return m.UserID }))

		found, err := users.GetUsersByIDs(ctx, ids)
		if err != nil {
			logger.WarnContext(ctx, "populate authors failed", slog.String("error", err.Error()))
			found = nil
		}
		byID := lo.KeyBy(found, func(u *models.User) string { return u.ID })

		return lo.Map(records, func(m *models.Message, _ int) *models.Message {
			cp := *m
			cp.User = nil
			if u, ok := byID[m.UserID]; ok {
				cp.User = u.Profile()
			}
			return &cp
		}), nil
	}
}

func (s *MessageService) restrictToAuthor(ctx context.Context, call *hooks.Call, _ *models.MessageInput) error {
	msg, err := s.store.GetMessage(ctx, call.ID)
	if err != nil {
		return storeError(err, call.ID)
	}
	if msg.UserID != call.Params.UserID {
		return apperr.NotAuthorized("You can only modify your own messages")
	}
	return nil
}

func (s *MessageService) one(ctx context.Context, call *hooks.Call, msg *models.Message) (*models.Message, error) {
	out, err := s.pipeline.RunAfter(ctx, call, []*models.Message{msg})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *MessageService) Find(ctx context.Context, params *hooks.Params) ([]*models.Message, error) {
	call := newCall(MessagesPath, hooks.Find, "", params)
	if err := s.pipeline.RunBefore(ctx, call, nil); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, s.opts.Paging.clamp(call.Params.Query))
	if err != nil {
		return nil, storeError(err, "")
	}
	return s.pipeline.RunAfter(ctx, call, messages)
}

func (s *MessageService) Get(ctx context.Context, id string, params *hooks.Params) (*models.Message, error) {
	call := newCall(MessagesPath, hooks.Get, id, params)
	if err := s.pipeline.RunBefore(ctx, call, nil); err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, storeError(err, id)
	}
	return s.one(ctx, call, msg)
}

// Create stores a message authored by the verified caller and publishes
// the populated result.
func (s *MessageService) Create(ctx context.Context, data models.MessageInput, params *hooks.Params) (*models.Message, error) {
	call := newCall(MessagesPath, hooks.Create, "", params)
	if err := s.pipeline.RunBefore(ctx, call, &data); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		UserID:    data.UserID,
		Body:      data.Body,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.CreatedAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, storeError(err, msg.ID)
	}
	return s.commit(ctx, call, msg)
}

// Update replaces the body. The stored author is kept.
func (s *MessageService) Update(ctx context.Context, id string, data models.MessageInput, params *hooks.Params) (*models.Message, error) {
	return s.write(ctx, newCall(MessagesPath, hooks.Update, id, params), data)
}

// Patch changes the body. Messages have no other writable field, so it
// behaves like Update.
func (s *MessageService) Patch(ctx context.Context, id string, data models.MessageInput, params *hooks.Params) (*models.Message, error) {
	return s.write(ctx, newCall(MessagesPath, hooks.Patch, id, params), data)
}

func (s *MessageService) write(ctx context.Context, call *hooks.Call, data models.MessageInput) (*models.Message, error) {
	if err := s.pipeline.RunBefore(ctx, call, &data); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.store.GetMessage(ctx, call.ID)
	if err != nil {
		return nil, storeError(err, call.ID)
	}
	msg.Body = data.Body
	msg.UpdatedAt = data.CreatedAt
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, storeError(err, call.ID)
	}
	return s.commit(ctx, call, msg)
}

func (s *MessageService) Remove(ctx context.Context, id string, params *hooks.Params) (*models.Message, error) {
	call := newCall(MessagesPath, hooks.Remove, id, params)
	if err := s.pipeline.RunBefore(ctx, call, nil); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, storeError(err, id)
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return nil, storeError(err, id)
	}
	return s.commit(ctx, call, msg)
}

// commit runs the after chain and publishes the result. Callers hold mu.
func (s *MessageService) commit(ctx context.Context, call *hooks.Call, msg *models.Message) (*models.Message, error) {
	out, err := s.one(ctx, call, msg)
	if err != nil {
		return nil, err
	}
	s.opts.Publisher.Publish(MessagesPath, methodEvents[call.Method], out)
	s.opts.Logger.DebugContext(ctx, "message committed",
		slog.String("id", out.ID),
		slog.String("event", string(methodEvents[call.Method])),
	)
	return out, nil
}
