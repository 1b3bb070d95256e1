package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/hooks"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/store"
)

const UsersPath = "users"

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

type AvatarResolver interface {
	Resolve(email string) string
}

type UserHook = hooks.Before[models.UserInput]

// UserService owns user records.
type UserService struct {
	store    store.Store
	opts     Options
	pipeline *hooks.Pipeline[models.UserInput, *models.User]
}

func NewUserService(s store.Store, hasher PasswordHasher, avatars AvatarResolver, tokens hooks.TokenVerifier, opts Options) *UserService {
	opts.defaults()
	svc := &UserService{store: s, opts: opts}

	p := hooks.NewPipeline[models.UserInput, *models.User]().
		Before(hooks.Authenticate[models.UserInput](tokens), hooks.Find, hooks.Get, hooks.Update, hooks.Patch, hooks.Remove)
	if opts.EnforceOwnership {
		p.Before(restrictToSelf, hooks.Update, hooks.Patch, hooks.Remove)
	}
	p.Before(validateNewUser, hooks.Create, hooks.Update).
		Before(validateUserPatch, hooks.Patch).
		Before(HashPassword(hasher), hooks.Create, hooks.Update, hooks.Patch).
		Before(Gravatar(avatars), hooks.Create, hooks.Update, hooks.Patch).
		After(hooks.When(hooks.IsProvider, Protect("password")))

	svc.pipeline = p
	return svc
}

func validateNewUser(_ context.Context, _ *hooks.Call, data *models.UserInput) error {
	data.Email = normalizeEmail(data.Email)
	if err := validate.Struct(newUserRules{Email: data.Email, Password: data.Password}); err != nil {
		return validationError(err)
	}
	return checkPasswordBytes(data.Password)
}

func validateUserPatch(_ context.Context, _ *hooks.Call, data *models.UserInput) error {
	data.Email = normalizeEmail(data.Email)
	if err := validate.Struct(userPatchRules{Email: data.Email, Password: data.Password}); err != nil {
		return validationError(err)
	}
	return checkPasswordBytes(data.Password)
}

// HashPassword replaces a supplied plaintext password with its digest.
// Calls without a password are left alone; create and update have already
// been validated to carry one.
func HashPassword(hasher PasswordHasher) UserHook {
	return func(_ context.Context, _ *hooks.Call, data *models.UserInput) error {
		if data.Password == "" {
			return nil
		}
		digest, err := hasher.Hash(data.Password)
		if err != nil {
			if errors.Is(err, bcrypt.ErrPasswordTooLong) {
				return apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
			}
			return apperr.Internal("hash password", err)
		}
		data.Password = digest
		return nil
	}
}

// Gravatar derives the avatar from the email address.
func Gravatar(avatars AvatarResolver) UserHook {
	return func(_ context.Context, _ *hooks.Call, data *models.UserInput) error {
		if data.Email != "" {
			data.Avatar = avatars.Resolve(data.Email)
		}
		return nil
	}
}

func restrictToSelf(_ context.Context, call *hooks.Call, _ *models.UserInput) error {
	if call.Params.UserID != call.ID {
		return apperr.NotAuthorized("You can only modify your own account")
	}
	return nil
}

// Protect strips the named fields from outgoing users. Only "password" is
// protectable.
func Protect(fields ...string) hooks.After[*models.User] {
	return hooks.Each(func(u *models.User) *models.User {
		cp := *u
		for _, f := range fields {
			if f == "password" {
				cp.Password = ""
			}
		}
		return &cp
	})
}

func (s *UserService) one(ctx context.Context, call *hooks.Call, user *models.User) (*models.User, error) {
	out, err := s.pipeline.RunAfter(ctx, call, []*models.User{user})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// publish emits the event with the provider-facing view of user.
func (s *UserService) publish(call *hooks.Call, user *models.User) {
	s.opts.Publisher.Publish(UsersPath, methodEvents[call.Method], protectUser(user))
}

func (s *UserService) Find(ctx context.Context, params *hooks.Params) ([]*models.User, error) {
	call := newCall(UsersPath, hooks.Find, "", params)
	if err := s.pipeline.RunBefore(ctx, call, nil); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, s.opts.Paging.clamp(call.Params.Query))
	if err != nil {
		return nil, storeError(err, "")
	}
	return s.pipeline.RunAfter(ctx, call, users)
}

func (s *UserService) Get(ctx context.Context, id string, params *hooks.Params) (*models.User, error) {
	call := newCall(UsersPath, hooks.Get, id, params)
	if err := s.pipeline.RunBefore(ctx, call, nil); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, storeError(err, id)
	}
	return s.one(ctx, call, user)
}

func (s *UserService) Create(ctx context.Context, data models.UserInput, params *hooks.Params) (*models.User, error) {
	call := newCall(UsersPath, hooks.Create, "", params)
	if err := s.pipeline.RunBefore(ctx, call, &data); err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	user := &models.User{
		ID:        uuid.NewString(),
		Email:     data.Email,
		Password:  data.Password,
		Avatar:    data.Avatar,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Conflict("email already exists")
		}
		return nil, storeError(err, user.ID)
	}
	s.publish(call, user)
	return s.one(ctx, call, user)
}

// Update replaces the email and password of an existing user.
func (s *UserService) Update(ctx context.Context, id string, data models.UserInput, params *hooks.Params) (*models.User, error) {
	return s.write(ctx, newCall(UsersPath, hooks.Update, id, params), data)
}

// Patch changes only the supplied fields.
func (s *UserService) Patch(ctx context.Context, id string, data models.UserInput, params *hooks.Params) (*models.User, error) {
	return s.write(ctx, newCall(UsersPath, hooks.Patch, id, params), data)
}

func (s *UserService) write(ctx context.Context, call *hooks.Call, data models.UserInput) (*models.User, error) {
	if err := s.pipeline.RunBefore(ctx, call, &data); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, call.ID)
	if err != nil {
		return nil, storeError(err, call.ID)
	}

	if data.Email != "" {
		user.Email = data.Email
		user.Avatar = data.Avatar
	}
	if data.Password != "" {
		user.Password = data.Password
	}
	user.UpdatedAt = s.opts.Now().UTC()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Conflict("email already exists")
		}
		return nil, storeError(err, call.ID)
	}
	s.publish(call, user)
	return s.one(ctx, call, user)
}

func (s *UserService) Remove(ctx context.Context, id string, params *hooks.Params) (*models.User, error) {
	call := newCall(UsersPath, hooks.Remove, id, params)
	if err := s.pipeline.RunBefore(ctx, call, nil); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, storeError(err, id)
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return nil, storeError(err, id)
	}
	s.publish(call, user)
	return s.one(ctx, call, user)
}
