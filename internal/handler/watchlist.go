package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
)

type WatchlistHandler struct {
	watchlist *repository.WatchlistRepository
}

func NewWatchlistHandler(watchlist *repository.WatchlistRepository) *WatchlistHandler {
	return &WatchlistHandler{watchlist: watchlist}
}

func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	mediaType := model.MediaType(r.URL.Query().Get("media_type"))
	if mediaType != "" && !model.ValidMediaType(mediaType) {
		writeError(w, http.StatusBadRequest, "Неизвестный тип медиа")
		return
	}
	entries, err := h.watchlist.List(r.Context(), userID, mediaType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlist": entries})
}

// Add идемпотентен: повторное добавление того же медиа отвечает 200.
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
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
	if !model.ValidMediaType(mediaType) {
		writeError(w, http.StatusBadRequest, "Неизвестный тип медиа")
		return
	}

	entry := &model.WatchlistEntry{
		UserID:    userID,
		TMDBID:    req.TMDBID,
		MediaType: mediaType,
		AddedAt:   time.Now().UTC(),
	}
	if err := h.watchlist.Add(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка добавления")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	mediaType := model.MediaType(chi.URLParam(r, "mediaType"))
	if !model.ValidMediaType(mediaType) {
		writeError(w, http.StatusBadRequest, "Неизвестный тип медиа")
		return
	}
	tmdbID, err := strconv.ParseInt(chi.URLParam(r, "tmdbId"), 10, 64)
	if err != nil || tmdbID <= 0 {
		writeError(w, http.StatusBadRequest, "Неверный tmdb_id")
		return
	}
	ok, err := h.watchlist.Remove(r.Context(), userID, tmdbID, mediaType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка удаления")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Не найдено")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
