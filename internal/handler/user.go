package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
	"github.com/Vidrimers/watchRebel-sub002/internal/service"
)

type UserHandler struct {
	users *repository.UserRepository
}

func NewUserHandler(users *repository.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// Get возвращает публичный профиль пользователя.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Пользователь не найден")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки пользователя")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

// Search ищет пользователей по имени или telegram-нику.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, map[string]any{"users": []model.UserPublic{}})
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 50 {
		limit = 20
	}
	users, err := h.users.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка поиска")
		return
	}
	result := make([]model.UserPublic, 0, len(users))
	for i := range users {
		result = append(result, users[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": result})
}

// UpdateMe — частичное обновление профиля: отсутствующие поля не трогаются.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		DisplayName *string `json:"display_name"`
		UserStatus  *string `json:"user_status"`
		AvatarURL   *string `json:"avatar_url"`
		Theme       *string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки профиля")
		return
	}

	if req.DisplayName != nil {
		name, err := service.ValidateDisplayName(*req.DisplayName)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Имя должно быть от 2 до 50 символов")
			return
		}
		user.DisplayName = name
	}
	if req.UserStatus != nil {
		status, err := service.ValidateUserStatus(*req.UserStatus)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Статус не длиннее 100 символов")
			return
		}
		user.UserStatus = status
	}
	if req.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*req.AvatarURL)
	}
	if req.Theme != nil {
		theme := model.Theme(*req.Theme)
		if !model.ValidTheme(theme) {
			writeError(w, http.StatusBadRequest, "Неизвестная тема")
			return
		}
		user.Theme = theme
	}

	if err := h.users.UpdateProfile(r.Context(), userID, user.DisplayName, user.UserStatus, user.AvatarURL, user.Theme); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка сохранения профиля")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
