package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
)

type ListHandler struct {
	lists *repository.ListRepository
}

func NewListHandler(lists *repository.ListRepository) *ListHandler {
	return &ListHandler{lists: lists}
}

// getOwned загружает список и проверяет, что он принадлежит пользователю.
func (h *ListHandler) getOwned(w http.ResponseWriter, r *http.Request) *model.List {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	list, err := h.lists.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Список не найден")
			return nil
		}
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки списка")
		return nil
	}
	if list.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil
	}
	return list
}

func (h *ListHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	lists, err := h.lists.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки списков")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lists": lists})
}

func (h *ListHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		Name      string `json:"name"`
		MediaType string `json:"media_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Название обязательно")
		return
	}
	mediaType := model.MediaType(req.MediaType)
	if !model.ValidMediaType(mediaType) {
		writeError(w, http.StatusBadRequest, "Неизвестный тип медиа")
		return
	}

	list := &model.List{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		MediaType: mediaType,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.lists.Create(r.Context(), list); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка создания списка")
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

func (h *ListHandler) Get(w http.ResponseWriter, r *http.Request) {
	list := h.getOwned(w, r)
	if list == nil {
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ListHandler) Rename(w http.ResponseWriter, r *http.Request) {
	list := h.getOwned(w, r)
	if list == nil {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Название обязательно")
		return
	}
	if err := h.lists.Rename(r.Context(), list.ID, name); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка переименования")
		return
	}
	list.Name = name
	writeJSON(w, http.StatusOK, list)
}

func (h *ListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	list := h.getOwned(w, r)
	if list == nil {
		return
	}
	if err := h.lists.Delete(r.Context(), list.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка удаления")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddItem добавляет медиа в список. Тип элемента обязан совпадать с типом списка.
func (h *ListHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	list := h.getOwned(w, r)
	if list == nil {
		return
	}
	var req struct {
		TMDBID    int64  `json:"tmdb_id"`
		MediaType string `json:"media_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TMDBID <= 0 {
		writeError(w, http.StatusBadRequest, "tmdb_id обязателен")
		return
	}
	mediaType := model.MediaType(req.MediaType)
	if mediaType != list.MediaType {
		writeError(w, http.StatusBadRequest, "Тип медиа не совпадает с типом списка")
		return
	}

	item := &model.ListItem{
		ID:        uuid.New().String(),
		ListID:    list.ID,
		TMDBID:    req.TMDBID,
		MediaType: mediaType,
		AddedAt:   time.Now().UTC(),
	}
	added, err := h.lists.AddItem(r.Context(), item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка добавления")
		return
	}
	if !added {
		writeError(w, http.StatusConflict, "Уже в списке")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *ListHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	list := h.getOwned(w, r)
	if list == nil {
		return
	}
	itemID := chi.URLParam(r, "itemId")
	ok, err := h.lists.RemoveItem(r.Context(), list.ID, itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка удаления")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Элемент не найден")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
