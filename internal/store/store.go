package store

import (
	"context"
	"errors"

	"github.com/pliu/quasar-chat/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Query narrows list operations. Results are ordered by commit order,
// newest last unless Desc is set.
type Query struct {
	Limit int
	Skip  int
	Desc  bool
}

// Store persists users and messages. Single-record writes are atomic;
// nothing needs multi-record transactions.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]*models.User, error)
	ListUsers(ctx context.Context, q Query) ([]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id string) error

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, q Query) ([]*models.Message, error)
	UpdateMessage(ctx context.Context, msg *models.Message) error
	DeleteMessage(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
