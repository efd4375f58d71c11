package service

import (
	"context"
	"errors"
	"testing"

	"github.com/networkup/chat/internal/model"
	"github.com/networkup/chat/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memory.Store
	svc   *ChatService
	ana   int64
	bruno int64
	carla int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	ids := store.Identities()
	mk := func(name, email string) int64 {
		i := &model.Identity{Name: name, Email: email}
		require.NoError(t, ids.Create(ctx, i))
		return i.ID
	}
	f := &fixture{store: store}
	f.ana = mk("Ana Souza", "ana@networkup.dev")
	f.bruno = mk("Bruno Lima", "bruno@networkup.dev")
	f.carla = mk("Carla Dias", "carla@example.org")
	f.svc = NewChatService(store.Conversations(), store.Messages(), ids)
	return f
}

func TestFindOrCreateIndividualIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1, existed, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, model.ConversationKindIndividual, c1.Kind)

	c2, existed, err := f.svc.FindOrCreateIndividual(ctx, f.bruno, f.ana)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, c1.ID, c2.ID)

	ids, err := f.svc.ActiveParticipantIDs(ctx, c1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.ana, f.bruno}, ids)
}

func TestFindOrCreateIndividualValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.ana)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = f.svc.FindOrCreateIndividual(ctx, f.ana, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindOrCreateIndividualIgnoresLeftParticipation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)
	f.store.SetParticipantStatus(c1.ID, f.bruno, model.ParticipantStatusLeft)

	c2, existed, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateGroup(ctx, f.ana, "solo", []int64{f.ana})
	assert.ErrorIs(t, err, ErrInvalidArgument, "creator alone is not a group")

	_, err = f.svc.CreateGroup(ctx, f.ana, "ghosts", []int64{404})
	assert.ErrorIs(t, err, ErrNotFound)

	g, err := f.svc.CreateGroup(ctx, f.ana, "  Turma  ", []int64{f.bruno, f.carla, f.bruno})
	require.NoError(t, err)
	assert.Equal(t, model.ConversationKindGroup, g.Kind)
	require.NotNil(t, g.Name)
	assert.Equal(t, "Turma", *g.Name)

	ids, err := f.svc.ActiveParticipantIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.ana, f.bruno, f.carla}, ids)
}

func TestSendMessageAuthorizationThenValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, c.ID, f.carla, "   ")
	assert.ErrorIs(t, err, ErrForbidden, "authorization is checked before content")

	_, err = f.svc.SendMessage(ctx, c.ID, f.ana, " \n\t ")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	msgs, err := f.store.Messages().ListByConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected sends persist nothing")

	m, err := f.svc.SendMessage(ctx, c.ID, f.ana, "oi, tudo bem?")
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.Equal(t, f.ana, m.AuthorID)
	assert.Equal(t, model.MessageStatusSent, m.Status)
	require.NotNil(t, m.Author)
	assert.Equal(t, "Ana Souza", m.Author.Name)
	assert.False(t, m.SentAt.IsZero())
}

func TestSendMessageRejectsLeftParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)
	f.store.SetParticipantStatus(c.ID, f.ana, model.ParticipantStatusRemoved)

	_, err = f.svc.SendMessage(ctx, c.ID, f.ana, "still here?")
	assert.ErrorIs(t, err, ErrForbidden)
}

type failingReadBack struct {
	MessageStore
}

func (failingReadBack) GetByID(context.Context, int64) (*model.Message, error) {
	return nil, errors.New("connection reset")
}

func TestSendMessageReadBackFailureKeepsMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)

	svc := NewChatService(f.store.Conversations(), failingReadBack{f.store.Messages()}, f.store.Identities())
	_, err = svc.SendMessage(ctx, c.ID, f.ana, "lost in fan-out")
	require.Error(t, err)

	var rb *ReadBackError
	require.ErrorAs(t, err, &rb)
	assert.ErrorIs(t, err, ErrPersistence)

	msgs, _, err := f.svc.ListMessages(ctx, c.ID, f.bruno)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, rb.MessageID, msgs[0].ID)
}

func TestListMessagesReadOnFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, c.ID, f.ana, "primeira")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, c.ID, f.bruno, "resposta")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, c.ID, f.ana, "segunda")
	require.NoError(t, err)

	_, _, err = f.svc.ListMessages(ctx, c.ID, f.carla)
	assert.ErrorIs(t, err, ErrForbidden)

	msgs, flipped, err := f.svc.ListMessages(ctx, c.ID, f.bruno)
	require.NoError(t, err)
	assert.Equal(t, int64(2), flipped)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"primeira", "resposta", "segunda"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.Equal(t, model.MessageStatusRead, msgs[0].Status)
	assert.Equal(t, model.MessageStatusSent, msgs[1].Status, "own messages stay sent")
	assert.Equal(t, model.MessageStatusRead, msgs[2].Status)

	_, flipped, err = f.svc.ListMessages(ctx, c.ID, f.bruno)
	require.NoError(t, err)
	assert.Zero(t, flipped)
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, c.ID, f.ana, "olá")
	require.NoError(t, err)

	_, err = f.svc.MarkAsRead(ctx, c.ID, f.carla)
	assert.ErrorIs(t, err, ErrForbidden)

	n, err := f.svc.MarkAsRead(ctx, c.ID, f.ana)
	require.NoError(t, err)
	assert.Zero(t, n, "author reading own conversation flips nothing")

	n, err = f.svc.MarkAsRead(ctx, c.ID, f.bruno)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dm, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)
	group, err := f.svc.CreateGroup(ctx, f.carla, "Projeto", []int64{f.ana})
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, dm.ID, f.bruno, "um")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, dm.ID, f.bruno, "dois")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, dm.ID, f.ana, "três")
	require.NoError(t, err)

	list, err := f.svc.ListConversations(ctx, f.ana)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, group.ID, list[0].Conversation.ID, "newest first")
	assert.Equal(t, "Projeto", list[0].DisplayName)
	assert.Nil(t, list[0].OtherParticipant)
	assert.Nil(t, list[0].LastMessage)

	assert.Equal(t, dm.ID, list[1].Conversation.ID)
	require.NotNil(t, list[1].OtherParticipant)
	assert.Equal(t, f.bruno, list[1].OtherParticipant.ID)
	assert.Equal(t, "Bruno Lima", list[1].DisplayName)
	require.NotNil(t, list[1].LastMessage)
	assert.Equal(t, "três", list[1].LastMessage.Content)
	assert.Equal(t, 2, list[1].UnreadCount)

	none, err := f.svc.ListConversations(ctx, 777)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchIdentities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.SearchIdentities(ctx, f.ana, "NETWORKUP")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.bruno, got[0].ID, "requester is excluded")

	got, err = f.svc.SearchIdentities(ctx, f.ana, "   ")
	require.NoError(t, err)
	assert.Empty(t, got)

	for i := 0; i < 15; i++ {
		require.NoError(t, f.store.Identities().Create(ctx, &model.Identity{Name: "Zé", Email: "ze@bulk.dev"}))
	}
	got, err = f.svc.SearchIdentities(ctx, f.ana, "bulk")
	require.NoError(t, err)
	assert.Len(t, got, SearchLimit)
}

func TestUnknownConversationIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.ListMessages(ctx, 4242, f.ana)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.SendMessage(ctx, 4242, f.ana, "alguém?")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.MarkAsRead(ctx, 4242, f.ana)
	assert.ErrorIs(t, err, ErrNotFound)
}

// lateWriter inserts a message right after the history is read, as a concurrent sender would.
type lateWriter struct {
	MessageStore
	late *model.Message
}

func (w lateWriter) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	msgs, err := w.MessageStore.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return msgs, w.MessageStore.Create(ctx, w.late)
}

func TestListMessagesLeavesUnlistedMessagesSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, c.ID, f.ana, "primeira")
	require.NoError(t, err)

	late := &model.Message{ConversationID: c.ID, AuthorID: f.ana, Content: "atrasada", Status: model.MessageStatusSent}
	svc := NewChatService(f.store.Conversations(), lateWriter{MessageStore: f.store.Messages(), late: late}, f.store.Identities())

	msgs, flipped, err := svc.ListMessages(ctx, c.ID, f.bruno)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), flipped)
	assert.Equal(t, model.MessageStatusRead, msgs[0].Status)

	stored, err := f.store.Messages().GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, stored.Status, "a message the reader never received stays unread")
}

func TestListMessagesEmptyConversationFlipsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, err := f.svc.FindOrCreateIndividual(ctx, f.ana, f.bruno)
	require.NoError(t, err)

	msgs, flipped, err := f.svc.ListMessages(ctx, c.ID, f.bruno)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, flipped)
}
