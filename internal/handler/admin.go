package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
)

// AdminHandler — модерация: блокировки, запрет публикаций, удаление аккаунтов.
type AdminHandler struct {
	users    *repository.UserRepository
	sessions *repository.SessionRepository
}

func NewAdminHandler(users *repository.UserRepository, sessions *repository.SessionRepository) *AdminHandler {
	return &AdminHandler{users: users, sessions: sessions}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	users, err := h.users.AdminList(r.Context(), q, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки пользователей")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Block блокирует вход пользователя и отзывает все его сессии.
func (h *AdminHandler) Block(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "Нельзя заблокировать себя")
		return
	}
	if err := h.users.SetBlocked(r.Context(), id, true); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка блокировки")
		return
	}
	if err := h.sessions.RevokeByUserID(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка отзыва сессий")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.users.SetBlocked(r.Context(), id, false); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка разблокировки")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PostBan запрещает публикации до указанного момента; null снимает запрет.
// На личные сообщения запрет не влияет.
func (h *AdminHandler) PostBan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Until *time.Time `json:"until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Until != nil && req.Until.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "Дата окончания в прошлом")
		return
	}
	if err := h.users.SetPostBan(r.Context(), id, req.Until); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка установки запрета")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delete удаляет аккаунт вместе с его данными (каскады в БД).
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "Нельзя удалить себя")
		return
	}
	if err := h.sessions.RevokeByUserID(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка отзыва сессий")
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Пользователь не найден")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка удаления")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
