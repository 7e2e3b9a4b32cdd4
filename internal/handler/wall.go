package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/notify"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
)

type WallHandler struct {
	posts    *repository.PostRepository
	users    *repository.UserRepository
	notifier *notify.Notifier
}

func NewWallHandler(posts *repository.PostRepository, users *repository.UserRepository, notifier *notify.Notifier) *WallHandler {
	return &WallHandler{posts: posts, users: users, notifier: notifier}
}

// CreatePost публикует запись на стену автора. Пока действует post_ban_until,
// публикация отвечает 403 "post ban" — личных сообщений запрет не касается.
func (h *WallHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка публикации")
		return
	}
	if user.PostBanned(time.Now()) {
		writeError(w, http.StatusForbidden, "post ban")
		return
	}

	var req struct {
		Content   string  `json:"content"`
		Rating    *int    `json:"rating"`
		TMDBID    *int64  `json:"tmdb_id"`
		MediaType *string `json:"media_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && req.Rating == nil {
		writeError(w, http.StatusBadRequest, "Пустая запись")
		return
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 10) {
		writeError(w, http.StatusBadRequest, "Оценка от 1 до 10")
		return
	}
	var mediaType *model.MediaType
	if req.MediaType != nil {
		mt := model.MediaType(*req.MediaType)
		if !model.ValidMediaType(mt) {
			writeError(w, http.StatusBadRequest, "Неизвестный тип медиа")
			return
		}
		mediaType = &mt
	}

	post := &model.Post{
		ID:        uuid.New().String(),
		UserID:    userID,
		Content:   content,
		Rating:    req.Rating,
		TMDBID:    req.TMDBID,
		MediaType: mediaType,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.posts.Create(r.Context(), post); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка публикации")
		return
	}
	pub := user.ToPublic()
	post.Author = &pub
	writeJSON(w, http.StatusCreated, post)
}

// Wall — записи одного пользователя, новые сверху.
func (h *WallHandler) Wall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 50 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	posts, err := h.posts.Wall(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки стены")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// Feed — свои записи плюс записи принятых друзей.
func (h *WallHandler) Feed(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 50 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	posts, err := h.posts.Feed(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки ленты")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// DeletePost — автор удаляет свою запись; админ — любую.
func (h *WallHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	ok, err := h.posts.Delete(r.Context(), id, userID, middleware.IsAdmin(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка удаления")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Запись не найдена")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WallHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	postID := chi.URLParam(r, "id")
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji обязателен")
		return
	}

	post, err := h.posts.GetByID(r.Context(), postID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Запись не найдена")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка реакции")
		return
	}

	added, err := h.posts.AddReaction(r.Context(), postID, userID, emoji)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка реакции")
		return
	}
	// Уведомляем автора только о новой реакции на чужую запись.
	if added && post.UserID != userID {
		reactor, err := h.users.GetByID(r.Context(), userID)
		if err == nil {
			if _, err := h.notifier.Notify(r.Context(), post.UserID, model.NotificationReaction,
				reactor.DisplayName+" отреагировал(а) "+emoji+" на вашу запись", postID, userID); err != nil {
				logger.Errorf("reaction notify: %v", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WallHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	postID := chi.URLParam(r, "id")
	emoji := chi.URLParam(r, "emoji")
	if err := h.posts.RemoveReaction(r.Context(), postID, userID, emoji); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка реакции")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
