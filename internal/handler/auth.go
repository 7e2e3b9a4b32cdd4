package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
	"github.com/Vidrimers/watchRebel-sub002/internal/service"
)

type AuthHandler struct {
	auth  *service.AuthService
	users *repository.UserRepository
}

func NewAuthHandler(auth *service.AuthService, users *repository.UserRepository) *AuthHandler {
	return &AuthHandler{auth: auth, users: users}
}

type authResponse struct {
	Token     string      `json:"token"`
	User      *model.User `json:"user"`
	IsNewUser bool        `json:"is_new_user"`
}

func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email обязателен")
		return
	}
	if err := h.auth.RequestCode(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrRateLimitExceeded) {
			writeError(w, http.StatusTooManyRequests, "Слишком много запросов. Попробуйте позже.")
			return
		}
		if errors.Is(err, service.ErrInvalidEmail) {
			writeError(w, http.StatusBadRequest, "Неверный формат email")
			return
		}
		logger.Errorf("request-code send failed for %s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "Не удалось отправить код")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.auth.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, service.ErrInvalidOTP) {
			writeError(w, http.StatusUnauthorized, "Неверный или истёкший код")
			return
		}
		if errors.Is(err, service.ErrUserBlocked) {
			writeError(w, http.StatusForbidden, "blocked")
			return
		}
		logger.Errorf("verify-code error email=%s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "Ошибка верификации")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: res.Token, User: res.User, IsNewUser: res.IsNewUser})
}

// Telegram — вход через Telegram Mini App: валидация initData подписью бота.
func (h *AuthHandler) Telegram(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitData string `json:"init_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.auth.TelegramLogin(r.Context(), req.InitData)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInitData) {
			writeError(w, http.StatusUnauthorized, "Невалидные данные Telegram")
			return
		}
		if errors.Is(err, service.ErrUserBlocked) {
			writeError(w, http.StatusForbidden, "blocked")
			return
		}
		logger.Errorf("telegram login: %v", err)
		writeError(w, http.StatusInternalServerError, "Ошибка входа")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: res.Token, User: res.User, IsNewUser: res.IsNewUser})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки профиля")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Logout закрывает текущую сессию. Повторный вызов тоже отвечает 200.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	if err := h.auth.Logout(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка выхода")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.auth.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки сессий")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

// LinkCode выдаёт одноразовый код привязки Telegram (10 минут).
func (h *AuthHandler) LinkCode(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	code, expiresAt, err := h.auth.CreateLinkCode(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Не удалось создать код")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "expires_at": expiresAt})
}
