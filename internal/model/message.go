package model

import "time"

// Attachment — файл, прикреплённый к сообщению. Порядок внутри сообщения фиксируется полем Position.
type Attachment struct {
	ID           string `json:"id"`
	MessageID    string `json:"message_id,omitempty"`
	Mimetype     string `json:"mimetype"`
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	Position     int    `json:"position"`
}

// Message — личное сообщение между двумя пользователями. Диалог не имеет
// собственной записи в БД: пара (sender_id, receiver_id) и есть диалог.
// Инвариант: непустой Content и/или хотя бы одно вложение.
type Message struct {
	ID          string       `json:"id"`
	SenderID    string       `json:"sender_id"`
	ReceiverID  string       `json:"receiver_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SentViaBot  bool         `json:"sent_via_bot"`
	IsRead      bool         `json:"is_read"`
	CreatedAt   time.Time    `json:"created_at"`
	Sender      *UserPublic  `json:"sender,omitempty"`
}

// HasBody проверяет инвариант сообщения: текст и/или вложения.
func (m *Message) HasBody() bool {
	return m.Content != "" || len(m.Attachments) > 0
}

// Conversation — диалог с одним собеседником, как его видит список диалогов.
type Conversation struct {
	User        UserPublic `json:"user"`
	LastMessage *Message   `json:"last_message,omitempty"`
	UnreadCount int        `json:"unread_count"`
}
