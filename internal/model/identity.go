package model

import "time"

// Identity is an account owned by the account subsystem; the chat core only reads it.
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// IdentitySummary is the public part of an identity attached to messages and conversation lists.
type IdentitySummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

func (i *Identity) Summary() IdentitySummary {
	return IdentitySummary{
		ID:        i.ID,
		Name:      i.Name,
		AvatarURL: i.AvatarURL,
	}
}
