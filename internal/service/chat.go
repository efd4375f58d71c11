package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/model"
	"github.com/networkup/chat/internal/repository"
)

// SearchLimit caps identity search results.
const SearchLimit = 10

type ConversationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	FindOrCreateIndividual(ctx context.Context, a, b int64) (*model.Conversation, bool, error)
	CreateGroup(ctx context.Context, name *string, identityIDs []int64) (*model.Conversation, error)
	ListForIdentity(ctx context.Context, identityID int64) ([]model.ConversationSummary, error)
	ActiveConversationIDs(ctx context.Context, identityID int64) ([]int64, error)
	ActiveParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
	IsActiveParticipant(ctx context.Context, conversationID, identityID int64) (bool, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error)
	// MarkRead flips others' sent messages to read. upToID > 0 limits it to ids <= upToID.
	MarkRead(ctx context.Context, conversationID, readerID, upToID int64) (int64, error)
}

type IdentityStore interface {
	GetByID(ctx context.Context, id int64) (*model.Identity, error)
	Search(ctx context.Context, fragment string, excludeID int64, limit int) ([]model.Identity, error)
}

// ChatService holds the conversation and message rules shared by the socket hub and HTTP handlers.
type ChatService struct {
	convs  ConversationStore
	msgs   MessageStore
	idents IdentityStore
}

func NewChatService(convs ConversationStore, msgs MessageStore, idents IdentityStore) *ChatService {
	return &ChatService{convs: convs, msgs: msgs, idents: idents}
}

// requireIdentity maps a missing identity to ErrNotFound.
func (s *ChatService) requireIdentity(ctx context.Context, op string, id int64) error {
	if _, err := s.idents.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: identity %d", ErrNotFound, id)
		}
		return persistence(op, err)
	}
	return nil
}

func (s *ChatService) requireActive(ctx context.Context, op string, conversationID, identityID int64) error {
	ok, err := s.convs.IsActiveParticipant(ctx, conversationID, identityID)
	if err != nil {
		return persistence(op, err)
	}
	if ok {
		return nil
	}
	// Not a participant: distinguish a conversation that does not exist at all.
	if _, err := s.convs.GetByID(ctx, conversationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return persistence(op, err)
	}
	return fmt.Errorf("%w: identity %d is not a participant of conversation %d", ErrForbidden, identityID, conversationID)
}

// FindOrCreateIndividual returns the individual conversation between a and b, creating it when
// absent. wasExisting reports whether an existing conversation was returned.
func (s *ChatService) FindOrCreateIndividual(ctx context.Context, a, b int64) (conv *model.Conversation, wasExisting bool, err error) {
	defer logger.DeferLogDuration("chat.FindOrCreateIndividual", time.Now())()
	if a <= 0 || b <= 0 {
		return nil, false, invalid("identity ids must be positive")
	}
	if a == b {
		return nil, false, invalid("cannot start a conversation with yourself")
	}
	if err := s.requireIdentity(ctx, "chat.FindOrCreateIndividual", a); err != nil {
		return nil, false, err
	}
	if err := s.requireIdentity(ctx, "chat.FindOrCreateIndividual", b); err != nil {
		return nil, false, err
	}
	conv, wasExisting, err = s.convs.FindOrCreateIndividual(ctx, a, b)
	if err != nil {
		return nil, false, persistence("chat.FindOrCreateIndividual", err)
	}
	return conv, wasExisting, nil
}

// CreateGroup creates a group with the creator and at least one other member.
func (s *ChatService) CreateGroup(ctx context.Context, creator int64, name string, memberIDs []int64) (*model.Conversation, error) {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()
	if creator <= 0 {
		return nil, invalid("creator id must be positive")
	}
	ids := []int64{creator}
	seen := map[int64]struct{}{creator: {}}
	for _, id := range memberIDs {
		if id <= 0 {
			return nil, invalid("member ids must be positive")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil, invalid("a group needs at least one member besides the creator")
	}
	for _, id := range ids {
		if err := s.requireIdentity(ctx, "chat.CreateGroup", id); err != nil {
			return nil, err
		}
	}
	var namePtr *string
	if n := strings.TrimSpace(name); n != "" {
		namePtr = &n
	}
	conv, err := s.convs.CreateGroup(ctx, namePtr, ids)
	if err != nil {
		return nil, persistence("chat.CreateGroup", err)
	}
	return conv, nil
}

// ListConversations returns the identity's active conversations, newest first.
func (s *ChatService) ListConversations(ctx context.Context, identityID int64) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("chat.ListConversations", time.Now())()
	list, err := s.convs.ListForIdentity(ctx, identityID)
	if err != nil {
		return nil, persistence("chat.ListConversations", err)
	}
	for i := range list {
		sum := &list[i]
		switch {
		case sum.Conversation.Name != nil && *sum.Conversation.Name != "":
			sum.DisplayName = *sum.Conversation.Name
		case sum.OtherParticipant != nil:
			sum.DisplayName = sum.OtherParticipant.Name
		}
	}
	return list, nil
}

// ListMessages returns every message of the conversation oldest first and marks the others'
// sent messages as read. Only the returned messages are marked: one inserted after the listing
// stays sent. flipped is the number of messages that changed to read.
func (s *ChatService) ListMessages(ctx context.Context, conversationID, requester int64) (msgs []model.Message, flipped int64, err error) {
	defer logger.DeferLogDuration("chat.ListMessages", time.Now())()
	if err := s.requireActive(ctx, "chat.ListMessages", conversationID, requester); err != nil {
		return nil, 0, err
	}
	msgs, err = s.msgs.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, 0, persistence("chat.ListMessages", err)
	}
	if len(msgs) == 0 {
		return msgs, 0, nil
	}
	var upTo int64
	for i := range msgs {
		upTo = max(upTo, msgs[i].ID)
	}
	flipped, err = s.msgs.MarkRead(ctx, conversationID, requester, upTo)
	if err != nil {
		return nil, 0, persistence("chat.ListMessages mark read", err)
	}
	if flipped > 0 {
		for i := range msgs {
			if msgs[i].AuthorID != requester && msgs[i].Status == model.MessageStatusSent {
				msgs[i].Status = model.MessageStatusRead
			}
		}
	}
	return msgs, flipped, nil
}

// SendMessage authorizes the author, validates content, persists the message and re-reads it
// with the author summary. A failed re-read returns *ReadBackError.
func (s *ChatService) SendMessage(ctx context.Context, conversationID, authorID int64, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.SendMessage", time.Now())()
	if err := s.requireActive(ctx, "chat.SendMessage", conversationID, authorID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, invalid("content is required")
	}
	m := &model.Message{
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        content,
		Status:         model.MessageStatusSent,
	}
	if err := s.msgs.Create(ctx, m); err != nil {
		return nil, persistence("chat.SendMessage insert", err)
	}
	stored, err := s.msgs.GetByID(ctx, m.ID)
	if err != nil {
		return nil, &ReadBackError{MessageID: m.ID, Err: err}
	}
	return stored, nil
}

// MarkAsRead flips the others' sent messages in the conversation to read.
func (s *ChatService) MarkAsRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	defer logger.DeferLogDuration("chat.MarkAsRead", time.Now())()
	if err := s.requireActive(ctx, "chat.MarkAsRead", conversationID, readerID); err != nil {
		return 0, err
	}
	n, err := s.msgs.MarkRead(ctx, conversationID, readerID, 0)
	if err != nil {
		return 0, persistence("chat.MarkAsRead", err)
	}
	return n, nil
}

// ActiveConversationIDs lists the rooms an identity should be subscribed to.
func (s *ChatService) ActiveConversationIDs(ctx context.Context, identityID int64) ([]int64, error) {
	ids, err := s.convs.ActiveConversationIDs(ctx, identityID)
	if err != nil {
		return nil, persistence("chat.ActiveConversationIDs", err)
	}
	return ids, nil
}

func (s *ChatService) ActiveParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	ids, err := s.convs.ActiveParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, persistence("chat.ActiveParticipantIDs", err)
	}
	return ids, nil
}

// SearchIdentities matches name or email, excluding the requester. An empty fragment matches nothing.
func (s *ChatService) SearchIdentities(ctx context.Context, requester int64, fragment string) ([]model.Identity, error) {
	defer logger.DeferLogDuration("chat.SearchIdentities", time.Now())()
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return []model.Identity{}, nil
	}
	list, err := s.idents.Search(ctx, fragment, requester, SearchLimit)
	if err != nil {
		return nil, persistence("chat.SearchIdentities", err)
	}
	return list, nil
}
