package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

type ProgressRepository struct {
	pool *pgxpool.Pool
}

func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// SeriesProgress возвращает все отметки просмотра одного сериала.
func (r *ProgressRepository) SeriesProgress(ctx context.Context, userID string, seriesTMDBID int64) (*model.SeriesProgress, error) {
	defer logger.DeferLogDuration("progress.SeriesProgress", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT season_number, episode_number, watched_at
		 FROM episode_progress
		 WHERE user_id = $1 AND series_tmdb_id = $2
		 ORDER BY season_number, episode_number`, userID, seriesTMDBID)
	if err != nil {
		return nil, fmt.Errorf("progressRepo.SeriesProgress query: %w", err)
	}
	defer rows.Close()
	sp := &model.SeriesProgress{SeriesTMDBID: seriesTMDBID, Watched: []model.EpisodeMark{}}
	for rows.Next() {
		var m model.EpisodeMark
		if err := rows.Scan(&m.SeasonNumber, &m.EpisodeNumber, &m.WatchedAt); err != nil {
			return nil, fmt.Errorf("progressRepo.SeriesProgress scan: %w", err)
		}
		sp.Watched = append(sp.Watched, m)
	}
	return sp, rows.Err()
}

// SetWatched ставит или снимает отметку. Повторная установка обновляет watched_at.
func (r *ProgressRepository) SetWatched(ctx context.Context, p *model.EpisodeProgress, watched bool) error {
	defer logger.DeferLogDuration("progress.SetWatched", time.Now())()
	if watched {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO episode_progress (user_id, series_tmdb_id, season_number, episode_number, watched_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id, series_tmdb_id, season_number, episode_number)
			 DO UPDATE SET watched_at = EXCLUDED.watched_at`,
			p.UserID, p.SeriesTMDBID, p.SeasonNumber, p.EpisodeNumber, p.WatchedAt)
		if err != nil {
			return fmt.Errorf("progressRepo.SetWatched: %w", err)
		}
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`DELETE FROM episode_progress
		 WHERE user_id = $1 AND series_tmdb_id = $2 AND season_number = $3 AND episode_number = $4`,
		p.UserID, p.SeriesTMDBID, p.SeasonNumber, p.EpisodeNumber)
	if err != nil {
		return fmt.Errorf("progressRepo.SetWatched delete: %w", err)
	}
	return nil
}
