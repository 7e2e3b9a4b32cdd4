package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/notify"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
	"github.com/Vidrimers/watchRebel-sub002/internal/ws"
)

const (
	maxAttachmentsPerMessage = 10
	maxAttachmentSize        = 50 << 20
)

type MessageHandler struct {
	messages    *repository.MessageRepository
	users       *repository.UserRepository
	hub         *ws.Hub
	notifier    *notify.Notifier
	sendLimiter *middleware.SendLimiter
}

func NewMessageHandler(messages *repository.MessageRepository, users *repository.UserRepository, hub *ws.Hub, notifier *notify.Notifier, sendLimiter *middleware.SendLimiter) *MessageHandler {
	return &MessageHandler{messages: messages, users: users, hub: hub, notifier: notifier, sendLimiter: sendLimiter}
}

// Conversations — список диалогов: собеседник, последнее сообщение, непрочитанные.
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.messages.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки диалогов")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

// Page — страница переписки с user_id. Окно выбирается с конца (offset от
// новейших), внутри ответа сообщения идут по возрастанию created_at.
func (h *MessageHandler) Page(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID := r.URL.Query().Get("user_id")
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "user_id обязателен")
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	messages, err := h.messages.GetConversation(r.Context(), userID, otherID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки сообщений")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type attachmentInput struct {
	Path         string `json:"path"`
	Mimetype     string `json:"mimetype"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
}

// Send создаёт сообщение. Блокировка публикаций (post ban) на личные
// сообщения не распространяется.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if !h.sendLimiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "Слишком часто. Подождите немного.")
		return
	}

	var req struct {
		ReceiverID  string            `json:"receiver_id"`
		Content     string            `json:"content"`
		Attachments []attachmentInput `json:"attachments"`
		SentViaBot  bool              `json:"sent_via_bot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReceiverID == "" || req.ReceiverID == userID {
		writeError(w, http.StatusBadRequest, "Неверный получатель")
		return
	}
	if len(req.Attachments) > maxAttachmentsPerMessage {
		writeError(w, http.StatusBadRequest, "Не больше 10 вложений")
		return
	}
	attachments := make([]model.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		if a.Path == "" {
			writeError(w, http.StatusBadRequest, "Вложение без файла")
			return
		}
		// Размер приходит из метаданных клиента: перепроверяем, а не доверяем.
		if a.Size < 0 || a.Size > maxAttachmentSize {
			writeError(w, http.StatusBadRequest, "Файл больше 50 МБ")
			return
		}
		attachments = append(attachments, model.Attachment{
			ID:           uuid.New().String(),
			Mimetype:     a.Mimetype,
			Path:         a.Path,
			OriginalName: a.OriginalName,
			Size:         a.Size,
		})
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && len(attachments) == 0 {
		writeError(w, http.StatusBadRequest, "Сообщение пустое")
		return
	}

	receiver, err := h.users.GetByID(r.Context(), req.ReceiverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Получатель не найден")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка отправки")
		return
	}

	msg := &model.Message{
		ID:          uuid.New().String(),
		SenderID:    userID,
		ReceiverID:  receiver.ID,
		Content:     content,
		Attachments: attachments,
		SentViaBot:  req.SentViaBot,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.messages.Create(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка отправки")
		return
	}

	sender, err := h.users.GetByID(r.Context(), userID)
	if err == nil {
		pub := sender.ToPublic()
		msg.Sender = &pub
		h.hub.SendNewMessage(msg)
		h.notifier.NewMessage(msg, sender.DisplayName)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead помечает прочитанными входящие сообщения пары и шлёт
// отправителю событие message_read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id обязателен")
		return
	}
	if err := h.messages.MarkConversationRead(r.Context(), userID, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка отметки")
		return
	}
	h.hub.SendMessageRead(req.UserID, userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
