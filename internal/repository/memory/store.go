// Package memory хранит беседы, сообщения и пользователей в памяти процесса.
// Используется в STORE=memory (разработка без Postgres) и в тестах; семантика совпадает с
// реализацией в internal/repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/networkup/chat/internal/model"
	"github.com/networkup/chat/internal/repository"
)

// Store is the shared state behind the Conversations, Messages and Identities views.
type Store struct {
	mu sync.RWMutex

	nextConversationID int64
	nextParticipantID  int64
	nextMessageID      int64
	nextIdentityID     int64

	identities    map[int64]model.Identity
	conversations map[int64]model.Conversation
	participants  []model.Participant
	messages      []model.Message

	now func() time.Time
}

func New() *Store {
	return &Store{
		identities:    make(map[int64]model.Identity),
		conversations: make(map[int64]model.Conversation),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// tick returns a strictly increasing timestamp so creation order is total.
func (s *Store) tick(last time.Time) time.Time {
	t := s.now()
	if !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	return t
}

func (s *Store) Conversations() *Conversations { return &Conversations{s: s} }
func (s *Store) Messages() *Messages           { return &Messages{s: s} }
func (s *Store) Identities() *Identities       { return &Identities{s: s} }

// SetParticipantStatus changes a participation row; there is no HTTP endpoint for it.
func (s *Store) SetParticipantStatus(conversationID, identityID int64, status model.ParticipantStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.participants {
		p := &s.participants[i]
		if p.ConversationID == conversationID && p.IdentityID == identityID {
			p.Status = status
		}
	}
}

func (s *Store) isActive(conversationID, identityID int64) bool {
	for _, p := range s.participants {
		if p.ConversationID == conversationID && p.IdentityID == identityID && p.Status == model.ParticipantStatusActive {
			return true
		}
	}
	return false
}

func (s *Store) summary(id int64) *model.IdentitySummary {
	i, ok := s.identities[id]
	if !ok {
		return &model.IdentitySummary{ID: id}
	}
	sum := i.Summary()
	return &sum
}

// Identities implements identity lookup and search.
type Identities struct{ s *Store }

func (r *Identities) Create(_ context.Context, i *model.Identity) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIdentityID++
	i.ID = s.nextIdentityID
	i.CreatedAt = s.now()
	s.identities[i.ID] = *i
	return nil
}

func (r *Identities) GetByID(_ context.Context, id int64) (*model.Identity, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &i, nil
}

func (r *Identities) Search(_ context.Context, fragment string, excludeID int64, limit int) ([]model.Identity, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(fragment)
	out := make([]model.Identity, 0, limit)
	for _, i := range s.identities {
		if i.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(i.Name), needle) || strings.Contains(strings.ToLower(i.Email), needle) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].ID < out[b].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Conversations implements conversation and participation queries.
type Conversations struct{ s *Store }

func (r *Conversations) GetByID(_ context.Context, id int64) (*model.Conversation, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *Conversations) FindOrCreateIndividual(_ context.Context, a, b int64) (*model.Conversation, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Conversation
	for _, c := range s.conversations {
		if c.Kind != model.ConversationKindIndividual || !s.isActive(c.ID, a) || !s.isActive(c.ID, b) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) || (c.CreatedAt.Equal(found.CreatedAt) && c.ID < found.ID) {
			c := c
			found = &c
		}
	}
	if found != nil {
		return found, true, nil
	}
	c := s.create(nil, model.ConversationKindIndividual, []int64{a, b})
	return &c, false, nil
}

func (r *Conversations) CreateGroup(_ context.Context, name *string, identityIDs []int64) (*model.Conversation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.create(name, model.ConversationKindGroup, identityIDs)
	return &c, nil
}

func (s *Store) create(name *string, kind model.ConversationKind, identityIDs []int64) model.Conversation {
	var last time.Time
	for _, c := range s.conversations {
		if c.CreatedAt.After(last) {
			last = c.CreatedAt
		}
	}
	s.nextConversationID++
	c := model.Conversation{ID: s.nextConversationID, Name: name, Kind: kind, CreatedAt: s.tick(last)}
	s.conversations[c.ID] = c
	seen := make(map[int64]struct{}, len(identityIDs))
	for _, id := range identityIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s.nextParticipantID++
		s.participants = append(s.participants, model.Participant{
			ID:             s.nextParticipantID,
			ConversationID: c.ID,
			IdentityID:     id,
			Status:         model.ParticipantStatusActive,
			JoinedAt:       c.CreatedAt,
		})
	}
	return c
}

func (r *Conversations) ActiveConversationIDs(_ context.Context, identityID int64) ([]int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, 8)
	for _, p := range s.participants {
		if p.IdentityID == identityID && p.Status == model.ParticipantStatusActive {
			ids = append(ids, p.ConversationID)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

func (r *Conversations) ActiveParticipantIDs(_ context.Context, conversationID int64) ([]int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, 4)
	for _, p := range s.participants {
		if p.ConversationID == conversationID && p.Status == model.ParticipantStatusActive {
			ids = append(ids, p.IdentityID)
		}
	}
	return ids, nil
}

func (r *Conversations) IsActiveParticipant(_ context.Context, conversationID, identityID int64) (bool, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isActive(conversationID, identityID), nil
}

func (r *Conversations) ListForIdentity(_ context.Context, identityID int64) ([]model.ConversationSummary, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ConversationSummary, 0, 8)
	for _, p := range s.participants {
		if p.IdentityID != identityID || p.Status != model.ParticipantStatusActive {
			continue
		}
		c := s.conversations[p.ConversationID]
		sum := model.ConversationSummary{Conversation: c}
		if c.Kind == model.ConversationKindIndividual {
			for _, op := range s.participants {
				if op.ConversationID == c.ID && op.IdentityID != identityID && op.Status == model.ParticipantStatusActive {
					sum.OtherParticipant = s.summary(op.IdentityID)
					break
				}
			}
		}
		for i := len(s.messages) - 1; i >= 0; i-- {
			m := s.messages[i]
			if m.ConversationID != c.ID {
				continue
			}
			if sum.LastMessage == nil {
				last := m
				last.Author = s.summary(m.AuthorID)
				sum.LastMessage = &last
			}
			if m.AuthorID != identityID && m.Status == model.MessageStatusSent {
				sum.UnreadCount++
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(a, b int) bool {
		ca, cb := out[a].Conversation, out[b].Conversation
		if !ca.CreatedAt.Equal(cb.CreatedAt) {
			return ca.CreatedAt.After(cb.CreatedAt)
		}
		return ca.ID > cb.ID
	})
	return out, nil
}

// Messages implements message persistence. Messages are kept in insertion (= id) order.
type Messages struct{ s *Store }

func (r *Messages) Create(_ context.Context, m *model.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	if n := len(s.messages); n > 0 {
		last = s.messages[n-1].SentAt
	}
	s.nextMessageID++
	m.ID = s.nextMessageID
	m.SentAt = s.tick(last)
	m.Status = model.MessageStatusSent
	stored := *m
	stored.Author = nil
	s.messages = append(s.messages, stored)
	return nil
}

func (r *Messages) GetByID(_ context.Context, id int64) (*model.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			m.Author = s.summary(m.AuthorID)
			return &m, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Messages) ListByConversation(_ context.Context, conversationID int64) ([]model.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, 16)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			m.Author = s.summary(m.AuthorID)
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *Messages) MarkRead(_ context.Context, conversationID, readerID, upToID int64) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if upToID > 0 && m.ID > upToID {
			continue
		}
		if m.ConversationID == conversationID && m.AuthorID != readerID && m.Status == model.MessageStatusSent {
			m.Status = model.MessageStatusRead
			n++
		}
	}
	return n, nil
}
