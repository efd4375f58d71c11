package ws

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/metrics"
	"github.com/networkup/chat/internal/model"
	"github.com/networkup/chat/internal/relay"
	"github.com/networkup/chat/internal/service"
)

// ChatService is the part of service.ChatService the hub needs.
type ChatService interface {
	ActiveConversationIDs(ctx context.Context, identityID int64) ([]int64, error)
	ActiveParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
	SendMessage(ctx context.Context, conversationID, authorID int64, content string) (*model.Message, error)
	MarkAsRead(ctx context.Context, conversationID, readerID int64) (int64, error)
}

// PushNotifier отправляет пуш-уведомления. Если nil: пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, identityID int64, title, body string, data map[string]string)
}

type Options struct {
	MaxConns       int
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	// OpTimeout bounds each store call made while handling a signal.
	OpTimeout time.Duration

	Relay relay.Relay
	Push  PushNotifier
}

func (o *Options) setDefaults() {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	if o.Relay == nil {
		o.Relay = relay.NewLocal()
	}
}

// Hub owns every connection of this process: the presence registry, the room table and the
// identity index. Room fan-out goes through the relay so several processes can share rooms.
type Hub struct {
	svc  ChatService
	opts Options

	mu         sync.RWMutex
	conns      map[*Client]struct{}
	byIdentity map[int64]map[*Client]struct{}
	rooms      *rooms
	presence   *Registry

	// convLocks serializes persist + publish per conversation so fan-out order equals
	// persistence order.
	convLocks *keyedMutex

	relay      relay.Relay
	unregister chan *Client
	closed     bool // set by shutdown under mu; Register refuses afterwards
	done       chan struct{}
	doneOnce   sync.Once
}

func NewHub(svc ChatService, opts Options) *Hub {
	opts.setDefaults()
	h := &Hub{
		svc:        svc,
		opts:       opts,
		conns:      make(map[*Client]struct{}),
		byIdentity: make(map[int64]map[*Client]struct{}),
		rooms:      newRooms(),
		presence:   NewRegistry(),
		convLocks:  newKeyedMutex(),
		relay:      opts.Relay,
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	h.relay.SetHandler(h.deliver)
	return h
}

// Presence exposes the registry (read-only use).
func (h *Hub) Presence() *Registry { return h.presence }

// Serve runs the unregister loop until ctx is done, then closes every connection.
// Registration is synchronous (see Register), so a connection is known to the hub
// before its first frame is read.
func (h *Hub) Serve(ctx context.Context) error {
	defer h.doneOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) String() string { return "ws.Hub" }

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	h.closed = true
	all := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		all = append(all, c)
	}
	h.conns = make(map[*Client]struct{})
	h.byIdentity = make(map[int64]map[*Client]struct{})
	h.rooms = newRooms()
	h.mu.Unlock()

	metrics.WSConnections.Set(0)
	metrics.WSAuthenticated.Set(0)
	for _, c := range all {
		h.presence.Unregister(c)
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return false
	}
	if len(h.conns) >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s", h.opts.MaxConns, c.id)
		metrics.WSRejected.Inc()
		c.Close()
		return false
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	return true
}

// removeClient drops every trace of c: rooms, identity index and presence (only if current).
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	h.rooms.leaveAll(c)
	authenticated := h.unbindLocked(c)
	h.mu.Unlock()

	h.presence.Unregister(c)
	metrics.WSConnections.Dec()
	if authenticated {
		metrics.WSAuthenticated.Dec()
	}

	// Network I/O outside the lock.
	c.Close()
}

// unbindLocked removes c from the identity index. Caller holds h.mu.
func (h *Hub) unbindLocked(c *Client) bool {
	id := c.Identity()
	if id == 0 {
		return false
	}
	if set, ok := h.byIdentity[id]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byIdentity, id)
		}
	}
	return true
}

// bind attaches c to identityID with exactly the given rooms. Returns false if c is gone.
func (h *Hub) bind(c *Client, identityID int64, conversationIDs []int64) bool {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return false
	}
	prev := c.Identity()
	if prev != 0 && prev != identityID {
		h.rooms.leaveAll(c)
		h.unbindLocked(c)
		h.presence.Unregister(c)
	}
	c.identity.Store(identityID)
	set, ok := h.byIdentity[identityID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byIdentity[identityID] = set
	}
	set[c] = struct{}{}
	h.rooms.replace(c, conversationIDs)
	h.mu.Unlock()

	h.presence.Register(identityID, c)
	if prev == 0 {
		metrics.WSAuthenticated.Inc()
	}
	return true
}

func (h *Hub) joinRoom(c *Client, conversationID int64) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		h.rooms.join(c, conversationID)
	}
	h.mu.Unlock()
}

func (h *Hub) inRoom(c *Client, conversationID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms.has(c, conversationID)
}

// HandleMessage decodes one client frame and dispatches it. Frames of one connection are
// handled sequentially by its read pump.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	start := time.Now()
	typ, payload, err := DecodeIncoming(raw)
	if err != nil {
		logger.Debugf("ws bad frame conn=%s: %v", c.id, err)
		h.sendError(c, EventError, err.Error())
		metrics.ObserveSignal(signalLabel(typ), "rejected", start)
		return
	}

	var outcome string
	switch p := payload.(type) {
	case *AuthenticatePayload:
		outcome = h.handleAuthenticate(ctx, c, p)
	case *SendMessagePayload:
		outcome = h.handleSendMessage(ctx, c, p)
	case *MarkAsReadPayload:
		outcome = h.handleMarkAsRead(ctx, c, p)
	case *TypingPayload:
		outcome = h.handleTyping(ctx, c, p)
	}
	metrics.ObserveSignal(string(typ), outcome, start)
}

func signalLabel(t EventType) string {
	switch t {
	case EventAuthenticate, EventSendMessage, EventMarkAsRead, EventTyping:
		return string(t)
	default:
		return "unknown"
	}
}

func (h *Hub) handleAuthenticate(ctx context.Context, c *Client, p *AuthenticatePayload) string {
	defer logger.DeferLogDuration("ws.handleAuthenticate", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout)
	defer cancel()

	ids, err := h.svc.ActiveConversationIDs(ctx, p.IdentityID)
	if err != nil {
		logger.Errorf("ws authenticate identity=%d conn=%s: %v", p.IdentityID, c.id, err)
		h.sendDirect(c, EventAuthenticated, AuthenticatedPayload{Success: false})
		return "error"
	}
	if !h.bind(c, p.IdentityID, ids) {
		return "rejected"
	}
	logger.Debugf("ws authenticated identity=%d conn=%s rooms=%d", p.IdentityID, c.id, len(ids))
	h.sendDirect(c, EventAuthenticated, AuthenticatedPayload{Success: true})
	return "ok"
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, p *SendMessagePayload) string {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	author := c.Identity()
	if author == 0 {
		h.sendError(c, EventMessageError, "not authenticated")
		return "rejected"
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout)
	defer cancel()

	unlock := h.convLocks.Lock(p.ConversationID)
	msg, err := h.svc.SendMessage(ctx, p.ConversationID, author, p.Content)
	if err != nil {
		unlock()
		return h.reportFailure(c, "send_message", p.ConversationID, err)
	}
	metrics.MessagesPersisted.Inc()
	h.joinRoom(c, p.ConversationID)

	err = h.publish(ctx, relay.KindRoom, p.ConversationID, 0, nil,
		EventNewMessage, NewMessagePayload{Message: msg, ConversationID: p.ConversationID})
	unlock()
	if err != nil {
		logger.Log().Error().Err(err).
			Int64("conversation", p.ConversationID).Int64("message", msg.ID).
			Msg("ws publish new_message")
		h.sendError(c, EventMessageError, "message saved but could not be delivered")
		return "error"
	}

	h.notifyOffline(msg)
	return "ok"
}

func (h *Hub) handleMarkAsRead(ctx context.Context, c *Client, p *MarkAsReadPayload) string {
	defer logger.DeferLogDuration("ws.handleMarkAsRead", time.Now())()
	reader := c.Identity()
	if reader == 0 {
		h.sendError(c, EventError, "not authenticated")
		return "rejected"
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout)
	defer cancel()

	if _, err := h.svc.MarkAsRead(ctx, p.ConversationID, reader); err != nil {
		return h.reportFailure(c, "mark_as_read", p.ConversationID, err)
	}
	h.joinRoom(c, p.ConversationID)

	if err := h.BroadcastRead(ctx, p.ConversationID, reader); err != nil {
		logger.Errorf("ws publish messages_read conversation=%d: %v", p.ConversationID, err)
		return "error"
	}
	return "ok"
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, p *TypingPayload) string {
	typer := c.Identity()
	if typer == 0 {
		h.sendError(c, EventError, "not authenticated")
		return "rejected"
	}
	// Only subscribers may signal a room; no store lookup for an ephemeral signal.
	if !h.inRoom(c, p.ConversationID) {
		return "rejected"
	}
	err := h.publish(ctx, relay.KindRoom, p.ConversationID, typer, nil,
		EventUserTyping, UserTypingPayload{ConversationID: p.ConversationID, IdentityID: typer})
	if err != nil {
		logger.Debugf("ws publish user_typing conversation=%d: %v", p.ConversationID, err)
		return "error"
	}
	return "ok"
}

// reportFailure answers the originating connection only; store details stay in the log.
func (h *Hub) reportFailure(c *Client, op string, conversationID int64, err error) string {
	var rb *service.ReadBackError
	switch {
	case errors.Is(err, service.ErrForbidden):
		h.sendError(c, EventMessageError, "not a participant of this conversation")
		return "rejected"
	case errors.Is(err, service.ErrNotFound):
		h.sendError(c, EventMessageError, "conversation not found")
		return "rejected"
	case errors.Is(err, service.ErrInvalidArgument):
		h.sendError(c, EventMessageError, err.Error())
		return "rejected"
	case errors.As(err, &rb):
		metrics.ReadBackFailures.Inc()
		logger.Log().Error().Err(rb.Err).
			Str("op", op).Int64("conversation", conversationID).Int64("message", rb.MessageID).
			Int64("identity", c.Identity()).
			Msg("ws message persisted but not broadcast")
		h.sendError(c, EventMessageError, "message saved but could not be delivered")
		return "error"
	default:
		logger.Log().Error().Err(err).
			Str("op", op).Int64("conversation", conversationID).Int64("identity", c.Identity()).
			Msg("ws signal failed")
		h.sendError(c, EventMessageError, "failed to "+humanOp(op))
		return "error"
	}
}

func humanOp(op string) string {
	switch op {
	case "send_message":
		return "send message"
	case "mark_as_read":
		return "mark messages as read"
	default:
		return op
	}
}

// BroadcastRead tells the room that readerID has read the conversation. The reader's own
// connections are excluded.
func (h *Hub) BroadcastRead(ctx context.Context, conversationID, readerID int64) error {
	return h.publish(ctx, relay.KindRoom, conversationID, readerID, nil,
		EventMessagesRead, MessagesReadPayload{ConversationID: conversationID, IdentityID: readerID})
}

// JoinConversation subscribes every authenticated connection of identityIDs to the conversation
// room and sends them conversation_created.
func (h *Hub) JoinConversation(ctx context.Context, conv *model.Conversation, identityIDs []int64) error {
	return h.publish(ctx, relay.KindJoin, conv.ID, 0, identityIDs,
		EventConversationCreated, ConversationCreatedPayload{Conversation: conv})
}

func (h *Hub) publish(ctx context.Context, kind relay.Kind, conversationID, exclude int64, identities []int64, t EventType, payload any) error {
	frame, err := encode(t, payload)
	if err != nil {
		return err
	}
	return h.relay.Publish(ctx, relay.Envelope{
		Kind:            kind,
		ConversationID:  conversationID,
		ExcludeIdentity: exclude,
		Identities:      identities,
		Frame:           frame,
	})
}

// deliver is the relay handler: it enqueues the frame to the local subscribers.
func (h *Hub) deliver(env relay.Envelope) {
	var targets []*Client
	switch env.Kind {
	case relay.KindRoom:
		h.mu.RLock()
		subs := h.rooms.subscribers(env.ConversationID)
		targets = make([]*Client, 0, len(subs))
		for c := range subs {
			if env.ExcludeIdentity != 0 && c.Identity() == env.ExcludeIdentity {
				continue
			}
			targets = append(targets, c)
		}
		h.mu.RUnlock()
	case relay.KindJoin:
		h.mu.Lock()
		for _, id := range env.Identities {
			for c := range h.byIdentity[id] {
				h.rooms.join(c, env.ConversationID)
				targets = append(targets, c)
			}
		}
		h.mu.Unlock()
	default:
		logger.Errorf("ws deliver: unknown envelope kind %q", env.Kind)
		return
	}

	for _, c := range targets {
		h.sendToClient(c, env.Frame)
	}
	metrics.FanoutFrames.WithLabelValues(string(env.Kind)).Add(float64(len(targets)))
}

// notifyOffline pushes to participants without a live connection in this process.
func (h *Hub) notifyOffline(m *model.Message) {
	if h.opts.Push == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ids, err := h.svc.ActiveParticipantIDs(ctx, m.ConversationID)
		if err != nil {
			logger.Errorf("ws push participants conversation=%d: %v", m.ConversationID, err)
			return
		}
		title := "Nova mensagem"
		if m.Author != nil && m.Author.Name != "" {
			title = m.Author.Name
		}
		body := truncate(m.Content, 120)
		data := map[string]string{
			"conversationId": strconv.FormatInt(m.ConversationID, 10),
			"messageId":      strconv.FormatInt(m.ID, 10),
		}
		for _, id := range ids {
			if id == m.AuthorID || h.presence.Lookup(id) != nil {
				continue
			}
			h.opts.Push.Notify(ctx, id, title, body, data)
		}
	}()
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

func (h *Hub) sendDirect(c *Client, t EventType, payload any) {
	frame, err := encode(t, payload)
	if err != nil {
		logger.Errorf("ws %v", err)
		return
	}
	h.sendToClient(c, frame)
	metrics.FanoutFrames.WithLabelValues("direct").Inc()
}

func (h *Hub) sendError(c *Client, t EventType, text string) {
	h.sendDirect(c, t, ErrorPayload{Message: text})
}

func (h *Hub) sendToClient(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client conn=%s identity=%d", c.id, c.Identity())
		metrics.WSSlowClientsClosed.Inc()
		c.Close()
	}
}

// Register adds c to the hub before any of its frames are read. It returns false
// (and closes c) when the hub is shutting down or the connection limit is reached;
// the caller must not Start such a client.
func (h *Hub) Register(c *Client) bool {
	return h.addClient(c)
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
