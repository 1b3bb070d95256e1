package sqlstore

import (
	"context"

	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/store"
)

const messageColumns = "id, user_id, body, created_at, updated_at"

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.UserID, &m.Body, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := s.rebind("INSERT INTO messages (" + messageColumns + ") VALUES (?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, msg.ID, msg.UserID, msg.Body, msg.CreatedAt.UTC(), msg.UpdatedAt.UTC())
	return translate(err)
}

func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	query := s.rebind("SELECT " + messageColumns + " FROM messages WHERE id = ?")
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return msg, nil
}

func (s *SQLStore) ListMessages(ctx context.Context, q store.Query) ([]*models.Message, error) {
	query, args := s.paginate("SELECT "+messageColumns+" FROM messages"+orderBy(q), nil, q)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	query := s.rebind("UPDATE messages SET user_id = ?, body = ?, updated_at = ? WHERE id = ?")
	return affected(s.db.ExecContext(ctx, query, msg.UserID, msg.Body, msg.UpdatedAt.UTC(), msg.ID))
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	query := s.rebind("DELETE FROM messages WHERE id = ?")
	return affected(s.db.ExecContext(ctx, query, id))
}
