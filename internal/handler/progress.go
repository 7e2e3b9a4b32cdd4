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

type ProgressHandler struct {
	progress *repository.ProgressRepository
}

func NewProgressHandler(progress *repository.ProgressRepository) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

// Series — все просмотренные серии одного сериала.
func (h *ProgressHandler) Series(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	seriesID, err := strconv.ParseInt(chi.URLParam(r, "tmdbId"), 10, 64)
	if err != nil || seriesID <= 0 {
		writeError(w, http.StatusBadRequest, "Неверный tmdb_id")
		return
	}
	progress, err := h.progress.SeriesProgress(r.Context(), userID, seriesID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки прогресса")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// SetEpisode отмечает серию просмотренной или снимает отметку.
func (h *ProgressHandler) SetEpisode(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	seriesID, err := strconv.ParseInt(chi.URLParam(r, "tmdbId"), 10, 64)
	if err != nil || seriesID <= 0 {
		writeError(w, http.StatusBadRequest, "Неверный tmdb_id")
		return
	}
	season, err := strconv.Atoi(chi.URLParam(r, "season"))
	if err != nil || season < 0 {
		writeError(w, http.StatusBadRequest, "Неверный сезон")
		return
	}
	episode, err := strconv.Atoi(chi.URLParam(r, "episode"))
	if err != nil || episode < 1 {
		writeError(w, http.StatusBadRequest, "Неверная серия")
		return
	}

	var req struct {
		Watched bool `json:"watched"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := &model.EpisodeProgress{
		UserID:        userID,
		SeriesTMDBID:  seriesID,
		SeasonNumber:  season,
		EpisodeNumber: episode,
		WatchedAt:     time.Now().UTC(),
	}
	if err := h.progress.SetWatched(r.Context(), p, req.Watched); err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка сохранения")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watched": req.Watched})
}
