package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
)

type NotificationHandler struct {
	notifications *repository.NotificationRepository
	posts         *repository.PostRepository
	users         *repository.UserRepository
}

func NewNotificationHandler(notifications *repository.NotificationRepository, posts *repository.PostRepository, users *repository.UserRepository) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, posts: posts, users: users}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 15)
	if limit < 1 || limit > 50 {
		limit = 15
	}
	list, err := h.notifications.List(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки уведомлений")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	count, err := h.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка подсчёта")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkRead идемпотентна: прочитанное уведомление не возвращается в непрочитанные.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.notifications.MarkRead(r.Context(), id, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка отметки")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.notifications.MarkAllRead(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка отметки")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Target разрешает уведомление в сущность для перехода: пост (модалка)
// или профиль пользователя.
func (h *NotificationHandler) Target(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	n, err := h.notifications.GetByID(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Уведомление не найдено")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки уведомления")
		return
	}

	if n.RelatedPostID != nil {
		post, err := h.posts.GetByID(r.Context(), *n.RelatedPostID)
		if err == nil {
			writeJSON(w, http.StatusOK, model.NotificationTarget{Kind: "post", Post: post})
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "Ошибка загрузки поста")
			return
		}
		// Пост удалён — пробуем второго участника.
	}
	if n.RelatedUserID != nil {
		user, err := h.users.GetByID(r.Context(), *n.RelatedUserID)
		if err == nil {
			pub := user.ToPublic()
			writeJSON(w, http.StatusOK, model.NotificationTarget{Kind: "user", User: &pub})
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "Ошибка загрузки пользователя")
			return
		}
	}
	writeError(w, http.StatusNotFound, "Цель уведомления недоступна")
}
