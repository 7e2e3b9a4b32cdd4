package model

import "time"

type NotificationType string

const (
	NotificationReaction       NotificationType = "reaction"
	NotificationFriendActivity NotificationType = "friend_activity"
	NotificationMessage        NotificationType = "message"
	NotificationOther          NotificationType = "other"
)

// Notification — уведомление пользователя. IsRead переходит только false→true.
// RelatedPostID и RelatedUserID не исключают друг друга: у реакции заполнены оба.
type Notification struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Type          NotificationType `json:"type"`
	Content       string           `json:"content"`
	RelatedPostID *string          `json:"related_post_id,omitempty"`
	RelatedUserID *string          `json:"related_user_id,omitempty"`
	IsRead        bool             `json:"is_read"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NotificationTarget — результат разрешения уведомления в сущность для перехода.
type NotificationTarget struct {
	Kind string      `json:"kind"` // "post" | "user"
	Post *Post       `json:"post,omitempty"`
	User *UserPublic `json:"user,omitempty"`
}
