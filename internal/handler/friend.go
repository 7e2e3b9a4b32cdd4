package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/notify"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
)

type FriendHandler struct {
	friends  *repository.FriendRepository
	users    *repository.UserRepository
	notifier *notify.Notifier
}

func NewFriendHandler(friends *repository.FriendRepository, users *repository.UserRepository, notifier *notify.Notifier) *FriendHandler {
	return &FriendHandler{friends: friends, users: users, notifier: notifier}
}

// Overview — друзья, входящие и исходящие запросы одним ответом.
func (h *FriendHandler) Overview(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	overview, err := h.friends.Overview(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки друзей")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *FriendHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.UserID == userID {
		writeError(w, http.StatusBadRequest, "Неверный получатель запроса")
		return
	}
	addressee, err := h.users.GetByID(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Пользователь не найден")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка создания запроса")
		return
	}

	f := &model.Friendship{
		ID:          uuid.New().String(),
		RequesterID: userID,
		AddresseeID: addressee.ID,
		Status:      model.FriendshipPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.friends.CreateRequest(r.Context(), f); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "Запрос уже существует")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка создания запроса")
		return
	}

	requester, err := h.users.GetByID(r.Context(), userID)
	if err == nil {
		if _, err := h.notifier.Notify(r.Context(), addressee.ID, model.NotificationFriendActivity,
			requester.DisplayName+" хочет добавить вас в друзья", "", userID); err != nil {
			logger.Errorf("friend request notify: %v", err)
		}
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	f, err := h.friends.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Запрос не найден")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка принятия запроса")
		return
	}
	// Принять может только адресат запроса.
	if f.AddresseeID != userID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	ok, err := h.friends.Accept(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка принятия запроса")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "Запрос уже обработан")
		return
	}

	me, err := h.users.GetByID(r.Context(), userID)
	if err == nil {
		if _, err := h.notifier.Notify(r.Context(), f.RequesterID, model.NotificationFriendActivity,
			me.DisplayName+" принял(а) ваш запрос в друзья", "", userID); err != nil {
			logger.Errorf("friend accept notify: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delete удаляет дружбу либо отменяет/отклоняет запрос — одна операция на все случаи.
func (h *FriendHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	ok, err := h.friends.Delete(r.Context(), id, userID)
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
