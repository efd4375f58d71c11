package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/model"
)

const messageWithAuthorCols = `m.id, m.conversation_id, m.author_identity_id, m.content, m.sent_at, m.status,
	u.id, u.name, u.avatar_url`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessageWithAuthor(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	author := &model.IdentitySummary{}
	if err := s.Scan(&m.ID, &m.ConversationID, &m.AuthorID, &m.Content, &m.SentAt, &m.Status,
		&author.ID, &author.Name, &author.AvatarURL); err != nil {
		return err
	}
	m.Author = author
	return nil
}

// Create inserts m as sent; ID and SentAt are assigned by the database.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	m.Status = model.MessageStatusSent
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, author_identity_id, content, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, sent_at`,
		m.ConversationID, m.AuthorID, m.Content, m.Status,
	).Scan(&m.ID, &m.SentAt)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageWithAuthorCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.author_identity_id
		 WHERE m.id = $1`, id,
	)
	if err := scanMessageWithAuthor(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByConversation returns every message of the conversation, oldest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageWithAuthorCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.author_identity_id
		 WHERE m.conversation_id = $1
		 ORDER BY m.sent_at ASC, m.id ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessageWithAuthor(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByConversation scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation rows: %w", err)
	}
	return messages, nil
}

// MarkRead flips every sent message not authored by readerID to read and returns how many changed.
// upToID > 0 restricts the update to messages with id <= upToID.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID, upToID int64) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = $3
		 WHERE conversation_id = $1 AND author_identity_id <> $2 AND status = $4
		   AND ($5::bigint = 0 OR id <= $5)`,
		conversationID, readerID, model.MessageStatusRead, model.MessageStatusSent, upToID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}
