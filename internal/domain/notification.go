package domain

import "time"

// NotificationReason mirrors the interaction that caused a notification.
type NotificationReason string

const (
	ReasonLike   NotificationReason = "like"
	ReasonRepost NotificationReason = "repost"
	ReasonReply  NotificationReason = "reply"
	ReasonQuote  NotificationReason = "quote"
	ReasonFollow NotificationReason = "follow"
)

// Notification is a user-facing record of someone interacting with local
// content.
type Notification struct {
	ID          string
	RecipientID string

	ActorDID         string
	ActorHandle      string
	ActorDisplayName string
	ActorAvatarURL   string

	Reason     NotificationReason
	SubjectURI string

	// IsExternal is true when the actor is not a local user.
	IsExternal bool

	CreatedAt time.Time
}
