package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/model"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, kind, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Kind, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// pairLockKey is the advisory lock key serializing individual-conversation creation for one pair.
func pairLockKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return "individual:" + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

// FindOrCreateIndividual returns the oldest individual conversation where both identities are
// active, creating one with both participants if none exists. The bool reports reuse.
func (r *ConversationRepository) FindOrCreateIndividual(ctx context.Context, a, b int64) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("conv.FindOrCreateIndividual", time.Now())()
	var (
		c      model.Conversation
		reused bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, pairLockKey(a, b)); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		err := tx.QueryRow(ctx,
			`SELECT c.id, c.name, c.kind, c.created_at
			 FROM conversations c
			 WHERE c.kind = $3
			   AND EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = c.id AND p.identity_id = $1 AND p.status = $4)
			   AND EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = c.id AND p.identity_id = $2 AND p.status = $4)
			 ORDER BY c.created_at, c.id
			 LIMIT 1`,
			a, b, model.ConversationKindIndividual, model.ParticipantStatusActive,
		).Scan(&c.ID, &c.Name, &c.Kind, &c.CreatedAt)
		if err == nil {
			reused = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("find: %w", err)
		}
		created, err := createWithParticipants(ctx, tx, nil, model.ConversationKindIndividual, []int64{a, b})
		if err != nil {
			return err
		}
		c = *created
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("convRepo.FindOrCreateIndividual: %w", err)
	}
	return &c, reused, nil
}

// CreateGroup creates a group conversation with every identity as an active participant.
func (r *ConversationRepository) CreateGroup(ctx context.Context, name *string, identityIDs []int64) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.CreateGroup", time.Now())()
	var c *model.Conversation
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		c, err = createWithParticipants(ctx, tx, name, model.ConversationKindGroup, identityIDs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup: %w", err)
	}
	return c, nil
}

func createWithParticipants(ctx context.Context, tx pgx.Tx, name *string, kind model.ConversationKind, identityIDs []int64) (*model.Conversation, error) {
	c := &model.Conversation{Name: name, Kind: kind}
	err := tx.QueryRow(ctx,
		`INSERT INTO conversations (name, kind) VALUES ($1, $2) RETURNING id, created_at`,
		name, kind,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	batch := &pgx.Batch{}
	for _, id := range identityIDs {
		batch.Queue(
			`INSERT INTO participants (conversation_id, identity_id, status) VALUES ($1, $2, $3)
			 ON CONFLICT (conversation_id, identity_id) DO NOTHING`,
			c.ID, id, model.ParticipantStatusActive,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert participants: %w", err)
	}
	return c, nil
}

// ActiveConversationIDs returns every conversation where identityID holds an active participation.
func (r *ConversationRepository) ActiveConversationIDs(ctx context.Context, identityID int64) ([]int64, error) {
	defer logger.DeferLogDuration("conv.ActiveConversationIDs", time.Now())()
	return r.queryIDs(ctx, "convRepo.ActiveConversationIDs",
		`SELECT conversation_id FROM participants WHERE identity_id = $1 AND status = $2 ORDER BY conversation_id`,
		identityID, model.ParticipantStatusActive,
	)
}

// ActiveParticipantIDs returns the identities currently active in a conversation.
func (r *ConversationRepository) ActiveParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	defer logger.DeferLogDuration("conv.ActiveParticipantIDs", time.Now())()
	return r.queryIDs(ctx, "convRepo.ActiveParticipantIDs",
		`SELECT identity_id FROM participants WHERE conversation_id = $1 AND status = $2 ORDER BY joined_at, id`,
		conversationID, model.ParticipantStatusActive,
	)
}

func (r *ConversationRepository) queryIDs(ctx context.Context, op, sql string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("%s collect: %w", op, err)
	}
	return ids, nil
}

func (r *ConversationRepository) IsActiveParticipant(ctx context.Context, conversationID, identityID int64) (bool, error) {
	defer logger.DeferLogDuration("conv.IsActiveParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id = $1 AND identity_id = $2 AND status = $3)`,
		conversationID, identityID, model.ParticipantStatusActive,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsActiveParticipant: %w", err)
	}
	return exists, nil
}

// ListForIdentity returns the identity's active conversations, newest first, with the other
// participant (individual kind), the latest message and the unread count.
func (r *ConversationRepository) ListForIdentity(ctx context.Context, identityID int64) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conv.ListForIdentity", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name, c.kind, c.created_at,
		        o.id, o.name, o.avatar_url,
		        lm.id, lm.author_identity_id, lm.content, lm.sent_at, lm.status,
		        la.name, la.avatar_url,
		        (SELECT count(*) FROM messages um
		          WHERE um.conversation_id = c.id AND um.author_identity_id <> $1 AND um.status = $4)
		 FROM participants p
		 JOIN conversations c ON c.id = p.conversation_id
		 LEFT JOIN LATERAL (
		     SELECT u.id, u.name, u.avatar_url
		     FROM participants op
		     JOIN users u ON u.id = op.identity_id
		     WHERE op.conversation_id = c.id AND op.identity_id <> $1 AND op.status = $2 AND c.kind = $3
		     ORDER BY op.joined_at, op.id
		     LIMIT 1
		 ) o ON true
		 LEFT JOIN LATERAL (
		     SELECT m.id, m.author_identity_id, m.content, m.sent_at, m.status
		     FROM messages m
		     WHERE m.conversation_id = c.id
		     ORDER BY m.sent_at DESC, m.id DESC
		     LIMIT 1
		 ) lm ON true
		 LEFT JOIN users la ON la.id = lm.author_identity_id
		 WHERE p.identity_id = $1 AND p.status = $2
		 ORDER BY c.created_at DESC, c.id DESC`,
		identityID, model.ParticipantStatusActive, model.ConversationKindIndividual, model.MessageStatusSent,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForIdentity query: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConversationSummary, 0, 16)
	for rows.Next() {
		var (
			s                        model.ConversationSummary
			otherID                  *int64
			otherName, otherAvatar   *string
			lastID, lastAuthor       *int64
			lastContent, lastStatus  *string
			lastSentAt               *time.Time
			authorName, authorAvatar *string
		)
		c := &s.Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.CreatedAt,
			&otherID, &otherName, &otherAvatar,
			&lastID, &lastAuthor, &lastContent, &lastSentAt, &lastStatus,
			&authorName, &authorAvatar,
			&s.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("convRepo.ListForIdentity scan: %w", err)
		}
		if otherID != nil {
			s.OtherParticipant = &model.IdentitySummary{ID: *otherID, Name: deref(otherName), AvatarURL: deref(otherAvatar)}
		}
		if lastID != nil {
			s.LastMessage = &model.Message{
				ID:             *lastID,
				ConversationID: c.ID,
				AuthorID:       *lastAuthor,
				Content:        deref(lastContent),
				SentAt:         *lastSentAt,
				Status:         model.MessageStatus(deref(lastStatus)),
				Author:         &model.IdentitySummary{ID: *lastAuthor, Name: deref(authorName), AvatarURL: deref(authorAvatar)},
			}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForIdentity rows: %w", err)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
