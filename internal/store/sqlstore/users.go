package sqlstore

import (
	"context"
	"database/sql"

	"github.com/samber/lo"

	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/store"
)

const userColumns = "id, email, password, avatar, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Avatar, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("INSERT INTO users (" + userColumns + ") VALUES (?, ?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.Password, user.Avatar, user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	return translate(err)
}

func (s *SQLStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE " + where + " = ?")
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email", email)
}

// GetUsersByIDs loads all users whose id is in ids with a single query.
// Unknown ids are skipped.
func (s *SQLStore) GetUsersByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE id IN (" + placeholders(len(ids)) + ")")
	rows, err := s.db.QueryContext(ctx, query, lo.ToAnySlice(ids)...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func (s *SQLStore) ListUsers(ctx context.Context, q store.Query) ([]*models.User, error) {
	query, args := s.paginate("SELECT "+userColumns+" FROM users"+orderBy(q), nil, q)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLStore) UpdateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("UPDATE users SET email = ?, password = ?, avatar = ?, updated_at = ? WHERE id = ?")
	return affected(s.db.ExecContext(ctx, query, user.Email, user.Password, user.Avatar, user.UpdatedAt.UTC(), user.ID))
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	query := s.rebind("DELETE FROM users WHERE id = ?")
	return affected(s.db.ExecContext(ctx, query, id))
}
