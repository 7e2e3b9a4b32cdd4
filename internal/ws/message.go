package ws

import "github.com/Vidrimers/watchRebel-sub002/internal/model"

type EventType string

const (
	// client -> server
	EventAuth EventType = "auth"

	// server -> client
	EventAuthOK          EventType = "auth_ok"
	EventNewMessage      EventType = "new_message"
	EventNewNotification EventType = "new_notification"
	EventMessageRead     EventType = "message_read"
	EventUserOnline      EventType = "user_online"
	EventUserOffline     EventType = "user_offline"
	EventError           EventType = "error"
)

// IncomingMessage — кадр от клиента. Единственный осмысленный —
// {"type":"auth","token":"..."} сразу после апгрейда.
type IncomingMessage struct {
	Type  EventType `json:"type"`
	Token string    `json:"token,omitempty"`
}

// OutgoingMessage — кадр от сервера клиенту. Payload — типизированные
// структуры, а не map[string]any.
type OutgoingMessage struct {
	Type         EventType           `json:"type"`
	Message      *model.Message      `json:"message,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
	Payload      any                 `json:"payload,omitempty"`
}

// MessageReadPayload рассылается, когда собеседник прочитал переписку.
type MessageReadPayload struct {
	UserID string `json:"user_id"`
}

// UserStatusPayload — событие смены присутствия (онлайн/офлайн).
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// ErrorPayload несёт короткое описание ошибки.
type ErrorPayload struct {
	Error string `json:"error"`
}
