package model

import "time"

type ConversationKind string

const (
	ConversationKindIndividual ConversationKind = "individual"
	ConversationKindGroup      ConversationKind = "group"
)

type ParticipantStatus string

const (
	ParticipantStatusActive  ParticipantStatus = "active"
	ParticipantStatusLeft    ParticipantStatus = "left"
	ParticipantStatusRemoved ParticipantStatus = "removed"
)

type Conversation struct {
	ID        int64            `json:"id"`
	Name      *string          `json:"name"`
	Kind      ConversationKind `json:"kind"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Participant links an identity to a conversation. Only active rows grant access.
type Participant struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversationId"`
	IdentityID     int64             `json:"identityId"`
	Status         ParticipantStatus `json:"status"`
	JoinedAt       time.Time         `json:"joinedAt"`
}

// ConversationSummary is one entry of an identity's conversation list.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	// DisplayName is the conversation name, or the other participant's name for unnamed individual chats.
	DisplayName      string           `json:"displayName"`
	OtherParticipant *IdentitySummary `json:"otherParticipant,omitempty"`
	LastMessage      *Message         `json:"lastMessage,omitempty"`
	UnreadCount      int              `json:"unreadCount"`
}
