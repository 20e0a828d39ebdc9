package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/model"
)

// MessageRepository persists chat messages. Messages are append-only;
// there is deliberately no update or delete path.
type MessageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMessageRepository(pg *client.PostgresClient, logger *zap.Logger) *MessageRepository {
	return &MessageRepository{db: pg.DB, logger: logger}
}

func (r *MessageRepository) CreateMessage(ctx context.Context, msg *model.Message) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, item_id, content)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		msg.ID, msg.SenderID, msg.RecipientID, msg.ItemID, msg.Content,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	r.logger.Debug("message persisted",
		zap.String("message_id", msg.ID),
		zap.String("sender_id", msg.SenderID),
		zap.String("recipient_id", msg.RecipientID))
	return nil
}

// ListConversation returns the most recent messages exchanged between two
// users, oldest first.
func (r *MessageRepository) ListConversation(ctx context.Context, userA, userB string, limit int) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, item_id, content, created_at
		 FROM (
			SELECT id, sender_id, recipient_id, item_id, content, created_at
			FROM messages
			WHERE (sender_id = $1 AND recipient_id = $2)
			   OR (sender_id = $2 AND recipient_id = $1)
			ORDER BY created_at DESC
			LIMIT $3
		 ) recent
		 ORDER BY created_at ASC`,
		userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		var msg model.Message
		var itemID sql.NullString
		if err := rows.Scan(
			&msg.ID, &msg.SenderID, &msg.RecipientID,
			&itemID, &msg.Content, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if itemID.Valid {
			msg.ItemID = &itemID.String
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
