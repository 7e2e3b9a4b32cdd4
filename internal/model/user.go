package model

import "time"

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ValidTheme сообщает, поддерживается ли значение темы.
func ValidTheme(t Theme) bool {
	return t == ThemeDark || t == ThemeLight
}

type User struct {
	ID               string     `json:"id"`
	DisplayName      string     `json:"display_name"`
	Email            string     `json:"email,omitempty"`
	TelegramUsername string     `json:"telegram_username,omitempty"`
	TelegramUserID   *int64     `json:"-"`
	TelegramChatID   *int64     `json:"-"`
	AvatarURL        string     `json:"avatar_url"`
	UserStatus       string     `json:"user_status"`
	Theme            Theme      `json:"theme"`
	IsAdmin          bool       `json:"is_admin"`
	IsBlocked        bool       `json:"is_blocked"`
	PostBanUntil     *time.Time `json:"post_ban_until,omitempty"`
	GoogleID         string     `json:"-"`
	DiscordID        string     `json:"-"`
	IsOnline         bool       `json:"is_online"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// UserPublic — профиль, видимый другим пользователям (без email и модераторских полей).
type UserPublic struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	TelegramUsername string    `json:"telegram_username,omitempty"`
	AvatarURL        string    `json:"avatar_url"`
	UserStatus       string    `json:"user_status"`
	IsOnline         bool      `json:"is_online"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:               u.ID,
		DisplayName:      u.DisplayName,
		TelegramUsername: u.TelegramUsername,
		AvatarURL:        u.AvatarURL,
		UserStatus:       u.UserStatus,
		IsOnline:         u.IsOnline,
		LastSeenAt:       u.LastSeenAt,
	}
}

// PostBanned сообщает, действует ли запрет на публикации в момент now.
func (u *User) PostBanned(now time.Time) bool {
	return u.PostBanUntil != nil && u.PostBanUntil.After(now)
}
