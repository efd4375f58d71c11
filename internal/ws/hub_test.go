package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/networkup/chat/internal/model"
	"github.com/networkup/chat/internal/repository/memory"
	"github.com/networkup/chat/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type env struct {
	t     *testing.T
	store *memory.Store
	svc   *service.ChatService
	hub   *Hub
	ana   int64
	bruno int64
	carla int64
	conv  int64
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	mk := func(name string) int64 {
		i := &model.Identity{Name: name, Email: name + "@networkup.dev"}
		require.NoError(t, store.Identities().Create(ctx, i))
		return i.ID
	}
	e := &env{t: t, store: store}
	e.ana, e.bruno, e.carla = mk("ana"), mk("bruno"), mk("carla")
	e.svc = service.NewChatService(store.Conversations(), store.Messages(), store.Identities())
	c, _, err := e.svc.FindOrCreateIndividual(ctx, e.ana, e.bruno)
	require.NoError(t, err)
	e.conv = c.ID
	e.hub = NewHub(e.svc, opts)
	return e
}

func (e *env) connect() *Client {
	c := NewClient(e.hub, nil)
	require.True(e.t, e.hub.Register(c))
	return c
}

func (e *env) send(c *Client, t EventType, payload any) {
	e.t.Helper()
	p, err := json.Marshal(payload)
	require.NoError(e.t, err)
	raw, err := json.Marshal(IncomingMessage{Type: t, Payload: p})
	require.NoError(e.t, err)
	e.hub.HandleMessage(context.Background(), c, raw)
}

func (e *env) auth(c *Client, identity int64) {
	e.t.Helper()
	e.send(c, EventAuthenticate, AuthenticatePayload{IdentityID: identity})
	f := next(e.t, c)
	require.Equal(e.t, EventAuthenticated, f.Type)
	var p AuthenticatedPayload
	require.NoError(e.t, json.Unmarshal(f.Payload, &p))
	require.True(e.t, p.Success)
}

func next(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case data := <-c.send:
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("expected a frame")
		return frame{}
	}
}

func drained(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame: %s", data)
	default:
	}
}

func payloadOf[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func TestAuthenticateJoinsActiveConversations(t *testing.T) {
	e := newEnv(t, Options{})
	c := e.connect()
	e.auth(c, e.ana)

	assert.Equal(t, e.ana, c.Identity())
	assert.Same(t, c, e.hub.Presence().Lookup(e.ana))
	assert.True(t, e.hub.inRoom(c, e.conv))
}

func TestAuthenticateWithoutConversationsSucceeds(t *testing.T) {
	e := newEnv(t, Options{})
	c := e.connect()
	e.auth(c, e.carla)
	e.hub.mu.RLock()
	assert.Empty(t, e.hub.rooms.byConn[c])
	e.hub.mu.RUnlock()
}

func TestRegisterRejectsOverLimit(t *testing.T) {
	e := newEnv(t, Options{MaxConns: 1})
	first := e.connect()
	second := NewClient(e.hub, nil)

	assert.False(t, e.hub.Register(second))
	select {
	case <-second.done:
	default:
		t.Fatal("rejected client should be closed")
	}
	e.auth(first, e.ana)
}

func TestRegisterAfterShutdownClosesClient(t *testing.T) {
	e := newEnv(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.hub.Serve(ctx), context.Canceled)

	c := NewClient(e.hub, nil)
	assert.False(t, e.hub.Register(c))
	select {
	case <-c.done:
	default:
		t.Fatal("client registered after shutdown should be closed")
	}
}

func TestAuthenticateBeforeServeLoopStarts(t *testing.T) {
	e := newEnv(t, Options{})
	// No Serve goroutine: registration alone must make the connection known.
	c := e.connect()
	e.auth(c, e.ana)
	assert.Same(t, c, e.hub.Presence().Lookup(e.ana))
}

type failingLookup struct {
	ChatService
}

func (failingLookup) ActiveConversationIDs(context.Context, int64) ([]int64, error) {
	return nil, errors.New("pool exhausted")
}

func TestAuthenticateLookupFailure(t *testing.T) {
	e := newEnv(t, Options{})
	e.hub.svc = failingLookup{e.svc}
	c := e.connect()

	e.send(c, EventAuthenticate, AuthenticatePayload{IdentityID: e.ana})
	f := next(t, c)
	require.Equal(t, EventAuthenticated, f.Type)
	assert.False(t, payloadOf[AuthenticatedPayload](t, f).Success)
	assert.Zero(t, c.Identity(), "state unchanged on failure")
	assert.Nil(t, e.hub.Presence().Lookup(e.ana))
}

func TestReauthenticateDoesNotDuplicateDelivery(t *testing.T) {
	e := newEnv(t, Options{})
	ana, bruno := e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(ana, e.ana)
	e.auth(bruno, e.bruno)

	e.send(bruno, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "oi"})
	assert.Equal(t, EventNewMessage, next(t, ana).Type)
	drained(t, ana)
}

func TestReauthenticateAsOtherIdentityLeavesRooms(t *testing.T) {
	e := newEnv(t, Options{})
	c := e.connect()
	e.auth(c, e.ana)
	e.auth(c, e.carla)

	assert.False(t, e.hub.inRoom(c, e.conv))
	assert.Nil(t, e.hub.Presence().Lookup(e.ana))
	assert.Same(t, c, e.hub.Presence().Lookup(e.carla))
}

func TestSendMessageFansOutToRoomIncludingSender(t *testing.T) {
	e := newEnv(t, Options{})
	ana, bruno, carla := e.connect(), e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(bruno, e.bruno)
	e.auth(carla, e.carla)

	e.send(ana, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "Hello"})

	for _, c := range []*Client{ana, bruno} {
		f := next(t, c)
		require.Equal(t, EventNewMessage, f.Type)
		p := payloadOf[NewMessagePayload](t, f)
		assert.Equal(t, e.conv, p.ConversationID)
		require.NotNil(t, p.Message)
		assert.Equal(t, "Hello", p.Message.Content)
		assert.Equal(t, e.ana, p.Message.AuthorID)
		assert.Equal(t, model.MessageStatusSent, p.Message.Status)
		require.NotNil(t, p.Message.Author)
		assert.Equal(t, "ana", p.Message.Author.Name)
	}
	drained(t, carla)
}

func TestSendMessageRejections(t *testing.T) {
	e := newEnv(t, Options{})
	anon, carla, ana := e.connect(), e.connect(), e.connect()
	e.auth(carla, e.carla)
	e.auth(ana, e.ana)

	e.send(anon, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "x"})
	f := next(t, anon)
	assert.Equal(t, EventMessageError, f.Type)
	assert.Equal(t, "not authenticated", payloadOf[ErrorPayload](t, f).Message)

	e.send(carla, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "intrusa"})
	f = next(t, carla)
	assert.Equal(t, EventMessageError, f.Type)
	assert.Equal(t, "not a participant of this conversation", payloadOf[ErrorPayload](t, f).Message)

	e.send(ana, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "   "})
	f = next(t, ana)
	assert.Equal(t, EventMessageError, f.Type)
	drained(t, ana)

	msgs, err := e.store.Messages().ListByConversation(context.Background(), e.conv)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

type readBackFails struct {
	service.MessageStore
}

func (readBackFails) GetByID(context.Context, int64) (*model.Message, error) {
	return nil, errors.New("replica lag")
}

func TestSendMessageReadBackFailureIsNotBroadcast(t *testing.T) {
	e := newEnv(t, Options{})
	e.hub.svc = service.NewChatService(e.store.Conversations(), readBackFails{e.store.Messages()}, e.store.Identities())
	ana, bruno := e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(bruno, e.bruno)

	e.send(ana, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "persisted"})

	f := next(t, ana)
	assert.Equal(t, EventMessageError, f.Type)
	drained(t, ana)
	drained(t, bruno)

	msgs, err := e.store.Messages().ListByConversation(context.Background(), e.conv)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "message is durable")
	assert.Equal(t, "persisted", msgs[0].Content)
}

func TestSendMessageJoinsSenderLazily(t *testing.T) {
	e := newEnv(t, Options{})
	ana := e.connect()
	e.auth(ana, e.ana)

	g, err := e.svc.CreateGroup(context.Background(), e.ana, "late", []int64{e.bruno})
	require.NoError(t, err)
	assert.False(t, e.hub.inRoom(ana, g.ID))

	e.send(ana, EventSendMessage, SendMessagePayload{ConversationID: g.ID, Content: "first"})
	assert.True(t, e.hub.inRoom(ana, g.ID))
	assert.Equal(t, EventNewMessage, next(t, ana).Type)
}

func TestSendOrderMatchesPersistenceOrder(t *testing.T) {
	e := newEnv(t, Options{SendBufferSize: 512})
	ana, bruno, watcher := e.connect(), e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(bruno, e.bruno)
	e.auth(watcher, e.bruno)

	const perAuthor = 50
	var wg sync.WaitGroup
	for _, c := range []*Client{ana, bruno} {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perAuthor; i++ {
				e.send(c, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: fmt.Sprintf("%d-%d", c.Identity(), i)})
			}
		}()
	}
	wg.Wait()

	var got []int64
	for i := 0; i < 2*perAuthor; i++ {
		f := next(t, watcher)
		require.Equal(t, EventNewMessage, f.Type)
		got = append(got, payloadOf[NewMessagePayload](t, f).Message.ID)
	}
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i], "delivery order must follow persistence order")
	}
}

func TestMarkAsReadExcludesMarker(t *testing.T) {
	e := newEnv(t, Options{})
	ana, anaPhone, bruno := e.connect(), e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(anaPhone, e.ana)
	e.auth(bruno, e.bruno)

	e.send(ana, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "lê aí"})
	for _, c := range []*Client{ana, anaPhone, bruno} {
		require.Equal(t, EventNewMessage, next(t, c).Type)
	}

	e.send(bruno, EventMarkAsRead, MarkAsReadPayload{ConversationID: e.conv})
	for _, c := range []*Client{ana, anaPhone} {
		f := next(t, c)
		require.Equal(t, EventMessagesRead, f.Type)
		p := payloadOf[MessagesReadPayload](t, f)
		assert.Equal(t, e.conv, p.ConversationID)
		assert.Equal(t, e.bruno, p.IdentityID)
	}
	drained(t, bruno)

	msgs, err := e.store.Messages().ListByConversation(context.Background(), e.conv)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusRead, msgs[0].Status)
}

func TestMarkAsReadForbidden(t *testing.T) {
	e := newEnv(t, Options{})
	carla := e.connect()
	e.auth(carla, e.carla)

	e.send(carla, EventMarkAsRead, MarkAsReadPayload{ConversationID: e.conv})
	assert.Equal(t, EventMessageError, next(t, carla).Type)
}

func TestSendToUnknownConversation(t *testing.T) {
	e := newEnv(t, Options{})
	ana := e.connect()
	e.auth(ana, e.ana)

	e.send(ana, EventSendMessage, SendMessagePayload{ConversationID: e.conv + 100, Content: "oi"})
	f := next(t, ana)
	require.Equal(t, EventMessageError, f.Type)
	assert.Equal(t, "conversation not found", payloadOf[ErrorPayload](t, f).Message)
}

func TestTypingRelayExcludesTyper(t *testing.T) {
	e := newEnv(t, Options{})
	ana, bruno, carla := e.connect(), e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(bruno, e.bruno)
	e.auth(carla, e.carla)

	e.send(ana, EventTyping, TypingPayload{ConversationID: e.conv})
	f := next(t, bruno)
	require.Equal(t, EventUserTyping, f.Type)
	p := payloadOf[UserTypingPayload](t, f)
	assert.Equal(t, e.ana, p.IdentityID)
	drained(t, ana)

	// Not subscribed: dropped silently.
	e.send(carla, EventTyping, TypingPayload{ConversationID: e.conv})
	drained(t, ana)
	drained(t, bruno)
	drained(t, carla)
}

func TestBadFramesGetErrorReply(t *testing.T) {
	e := newEnv(t, Options{})
	c := e.connect()

	for _, raw := range []string{
		`not json`,
		`{"type":"dance","payload":{}}`,
		`{"type":"authenticate","payload":{"identityId":0}}`,
		`{"type":"authenticate","payload":{"identityId":1,"admin":true}}`,
		`{"type":"send_message"}`,
	} {
		e.hub.HandleMessage(context.Background(), c, []byte(raw))
		assert.Equal(t, EventError, next(t, c).Type, raw)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	e := newEnv(t, Options{})
	old, cur, bruno := e.connect(), e.connect(), e.connect()
	e.auth(old, e.ana)
	e.auth(cur, e.ana)
	e.auth(bruno, e.bruno)
	require.Same(t, cur, e.hub.Presence().Lookup(e.ana))

	e.hub.removeClient(old)
	assert.Same(t, cur, e.hub.Presence().Lookup(e.ana), "stale disconnect keeps the newer entry")
	assert.False(t, e.hub.inRoom(old, e.conv))

	e.hub.removeClient(cur)
	assert.Nil(t, e.hub.Presence().Lookup(e.ana))

	e.send(bruno, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "alguém?"})
	assert.Equal(t, EventNewMessage, next(t, bruno).Type)
	drained(t, old)
	drained(t, cur)
}

func TestJoinConversationSubscribesBoundConnections(t *testing.T) {
	e := newEnv(t, Options{})
	ana, carla := e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(carla, e.carla)

	conv, _, err := e.svc.FindOrCreateIndividual(context.Background(), e.carla, e.ana)
	require.NoError(t, err)
	require.NoError(t, e.hub.JoinConversation(context.Background(), conv, []int64{e.carla, e.ana}))

	for _, c := range []*Client{ana, carla} {
		f := next(t, c)
		require.Equal(t, EventConversationCreated, f.Type)
		assert.Equal(t, conv.ID, payloadOf[ConversationCreatedPayload](t, f).Conversation.ID)
		assert.True(t, e.hub.inRoom(c, conv.ID))
	}

	e.send(carla, EventSendMessage, SendMessagePayload{ConversationID: conv.ID, Content: "oi Ana"})
	assert.Equal(t, EventNewMessage, next(t, ana).Type)
}

func TestSlowClientIsClosedWithoutBlockingOthers(t *testing.T) {
	e := newEnv(t, Options{SendBufferSize: 1})
	ana, bruno := e.connect(), e.connect()
	e.auth(ana, e.ana)
	e.auth(bruno, e.bruno)
	ana.send <- []byte(`{}`) // ana never reads

	e.send(bruno, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "1"})
	assert.Equal(t, EventNewMessage, next(t, bruno).Type)

	select {
	case <-ana.done:
	default:
		t.Fatal("slow client should be closed")
	}
}

type recordingPush struct {
	mu   sync.Mutex
	sent []int64
	got  chan struct{}
}

func (p *recordingPush) Notify(_ context.Context, identityID int64, _, _ string, _ map[string]string) {
	p.mu.Lock()
	p.sent = append(p.sent, identityID)
	p.mu.Unlock()
	p.got <- struct{}{}
}

func TestPushGoesToOfflineParticipantsOnly(t *testing.T) {
	push := &recordingPush{got: make(chan struct{}, 4)}
	e := newEnv(t, Options{Push: push})
	ana := e.connect()
	e.auth(ana, e.ana)

	e.send(ana, EventSendMessage, SendMessagePayload{ConversationID: e.conv, Content: "você está offline"})
	select {
	case <-push.got:
	case <-time.After(time.Second):
		t.Fatal("expected a push")
	}
	push.mu.Lock()
	assert.Equal(t, []int64{e.bruno}, push.sent)
	push.mu.Unlock()
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "curto", truncate("curto", 10))
	assert.Equal(t, "ação...", truncate("açãoçãoção", 7))
}
