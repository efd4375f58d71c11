package model

import "time"

type MessageStatus string

// MessageStatusDelivered is part of the stored vocabulary but no operation sets it.
const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type Message struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversationId"`
	AuthorID       int64            `json:"authorId"`
	Content        string           `json:"content"`
	SentAt         time.Time        `json:"sentAt"`
	Status         MessageStatus    `json:"status"`
	Author         *IdentitySummary `json:"author,omitempty"`
}
