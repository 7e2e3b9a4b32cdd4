package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
	"github.com/Vidrimers/watchRebel-sub002/internal/service"
)

// BotHandler — внутренние эндпоинты для бот-сервиса (за InternalOnly).
type BotHandler struct {
	auth *service.AuthService
}

func NewBotHandler(auth *service.AuthService) *BotHandler {
	return &BotHandler{auth: auth}
}

// Session выдаёт свежий токен для привязанного Telegram-пользователя.
// Каждый вызов создаёт новую сессию.
func (h *BotHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TelegramUserID int64 `json:"telegram_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TelegramUserID == 0 {
		writeError(w, http.StatusBadRequest, "telegram_user_id обязателен")
		return
	}
	res, err := h.auth.BotSession(r.Context(), req.TelegramUserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Аккаунт не привязан")
			return
		}
		if errors.Is(err, service.ErrUserBlocked) {
			writeError(w, http.StatusForbidden, "blocked")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка создания сессии")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: res.Token, User: res.User})
}

// Link обменивает одноразовый код привязки на соединение аккаунта с Telegram.
func (h *BotHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code             string `json:"code"`
		TelegramUserID   int64  `json:"telegram_user_id"`
		TelegramChatID   int64  `json:"telegram_chat_id"`
		TelegramUsername string `json:"telegram_username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.TelegramUserID == 0 {
		writeError(w, http.StatusBadRequest, "code и telegram_user_id обязательны")
		return
	}
	user, err := h.auth.ConsumeLinkCode(r.Context(), req.Code, req.TelegramUserID, req.TelegramChatID, req.TelegramUsername)
	if err != nil {
		if errors.Is(err, service.ErrLinkCodeInvalid) {
			writeError(w, http.StatusNotFound, "Код не найден или истёк")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка привязки")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
