package ws

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/networkup/chat/internal/model"
)

type EventType string

// Client → server.
const (
	EventAuthenticate EventType = "authenticate"
	EventSendMessage  EventType = "send_message"
	EventMarkAsRead   EventType = "mark_as_read"
	EventTyping       EventType = "typing"
)

// Server → client.
const (
	EventAuthenticated       EventType = "authenticated"
	EventNewMessage          EventType = "new_message"
	EventMessagesRead        EventType = "messages_read"
	EventUserTyping          EventType = "user_typing"
	EventMessageError        EventType = "message_error"
	EventConversationCreated EventType = "conversation_created"
	EventError               EventType = "error"
)

// ErrBadFrame wraps every inbound decoding or validation failure.
var ErrBadFrame = errors.New("bad frame")

var validate = validator.New(validator.WithRequiredStructEnabled())

// IncomingMessage is the envelope of every client frame; Payload is decoded by Type.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type AuthenticatePayload struct {
	IdentityID int64 `json:"identityId" validate:"required,gt=0"`
}

// SendMessagePayload carries no author or timestamp; both come from the server.
// Content emptiness is checked after authorization, not here.
type SendMessagePayload struct {
	ConversationID int64  `json:"conversationId" validate:"required,gt=0"`
	Content        string `json:"content"`
}

type MarkAsReadPayload struct {
	ConversationID int64 `json:"conversationId" validate:"required,gt=0"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversationId" validate:"required,gt=0"`
}

// DecodeIncoming parses a client frame into one of the *...Payload types above.
func DecodeIncoming(raw []byte) (EventType, any, error) {
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	var payload any
	switch msg.Type {
	case EventAuthenticate:
		payload = &AuthenticatePayload{}
	case EventSendMessage:
		payload = &SendMessagePayload{}
	case EventMarkAsRead:
		payload = &MarkAsReadPayload{}
	case EventTyping:
		payload = &TypingPayload{}
	case "":
		return "", nil, fmt.Errorf("%w: missing type", ErrBadFrame)
	default:
		return msg.Type, nil, fmt.Errorf("%w: unknown event type %q", ErrBadFrame, msg.Type)
	}

	if len(msg.Payload) == 0 || bytes.Equal(msg.Payload, []byte("null")) {
		return msg.Type, nil, fmt.Errorf("%w: %s requires a payload", ErrBadFrame, msg.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return msg.Type, nil, fmt.Errorf("%w: %s payload: %v", ErrBadFrame, msg.Type, err)
	}
	if err := validate.Struct(payload); err != nil {
		return msg.Type, nil, fmt.Errorf("%w: %s payload: %v", ErrBadFrame, msg.Type, err)
	}
	return msg.Type, payload, nil
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type AuthenticatedPayload struct {
	Success bool `json:"success"`
}

type NewMessagePayload struct {
	Message        *model.Message `json:"message"`
	ConversationID int64          `json:"conversationId"`
}

type MessagesReadPayload struct {
	ConversationID int64 `json:"conversationId"`
	IdentityID     int64 `json:"identityId"`
}

type UserTypingPayload struct {
	ConversationID int64 `json:"conversationId"`
	IdentityID     int64 `json:"identityId"`
}

type ConversationCreatedPayload struct {
	Conversation *model.Conversation `json:"conversation"`
}

// ErrorPayload is used by both message_error and error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// encode serializes once per fan-out; the bytes are shared by every recipient.
func encode(t EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(OutgoingMessage{Type: t, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("ws encode %s: %w", t, err)
	}
	return data, nil
}
