package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

type WatchlistRepository struct {
	pool *pgxpool.Pool
}

func NewWatchlistRepository(pool *pgxpool.Pool) *WatchlistRepository {
	return &WatchlistRepository{pool: pool}
}

// List возвращает "посмотреть позже"; mediaType пустой — оба типа.
func (r *WatchlistRepository) List(ctx context.Context, userID string, mediaType model.MediaType) ([]model.WatchlistEntry, error) {
	defer logger.DeferLogDuration("watchlist.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, tmdb_id, media_type, added_at FROM watchlist
		 WHERE user_id = $1 AND ($2 = '' OR media_type = $2)
		 ORDER BY added_at DESC`, userID, string(mediaType))
	if err != nil {
		return nil, fmt.Errorf("watchlistRepo.List query: %w", err)
	}
	defer rows.Close()
	entries := []model.WatchlistEntry{}
	for rows.Next() {
		var e model.WatchlistEntry
		if err := rows.Scan(&e.UserID, &e.TMDBID, &e.MediaType, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("watchlistRepo.List scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Add — идемпотентное добавление: повтор по PK (user_id, tmdb_id, media_type) молча игнорируется.
func (r *WatchlistRepository) Add(ctx context.Context, e *model.WatchlistEntry) error {
	defer logger.DeferLogDuration("watchlist.Add", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO watchlist (user_id, tmdb_id, media_type, added_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		e.UserID, e.TMDBID, e.MediaType, e.AddedAt)
	if err != nil {
		return fmt.Errorf("watchlistRepo.Add: %w", err)
	}
	return nil
}

func (r *WatchlistRepository) Remove(ctx context.Context, userID string, tmdbID int64, mediaType model.MediaType) (bool, error) {
	defer logger.DeferLogDuration("watchlist.Remove", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE user_id = $1 AND tmdb_id = $2 AND media_type = $3`,
		userID, tmdbID, mediaType)
	if err != nil {
		return false, fmt.Errorf("watchlistRepo.Remove: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Contains — для переключателя "в списке / не в списке" на карточке медиа.
func (r *WatchlistRepository) Contains(ctx context.Context, userID string, tmdbID int64, mediaType model.MediaType) (bool, error) {
	defer logger.DeferLogDuration("watchlist.Contains", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM watchlist WHERE user_id = $1 AND tmdb_id = $2 AND media_type = $3)`,
		userID, tmdbID, mediaType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("watchlistRepo.Contains: %w", err)
	}
	return exists, nil
}
