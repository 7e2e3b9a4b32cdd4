package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

type ListRepository struct {
	pool *pgxpool.Pool
}

func NewListRepository(pool *pgxpool.Pool) *ListRepository {
	return &ListRepository{pool: pool}
}

func (r *ListRepository) Create(ctx context.Context, l *model.List) error {
	defer logger.DeferLogDuration("list.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO lists (id, user_id, name, media_type, created_at) VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.UserID, l.Name, l.MediaType, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("listRepo.Create: %w", err)
	}
	return nil
}

func (r *ListRepository) GetByID(ctx context.Context, id string) (*model.List, error) {
	defer logger.DeferLogDuration("list.GetByID", time.Now())()
	l := &model.List{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, media_type, created_at FROM lists WHERE id = $1`, id,
	).Scan(&l.ID, &l.UserID, &l.Name, &l.MediaType, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("listRepo.GetByID: %w", err)
	}
	items, err := r.Items(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Items = items
	l.ItemCount = len(items)
	return l, nil
}

// ListByUser возвращает подборки пользователя с числом элементов (без самих элементов).
func (r *ListRepository) ListByUser(ctx context.Context, userID string) ([]model.List, error) {
	defer logger.DeferLogDuration("list.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.user_id, l.name, l.media_type, l.created_at,
		        (SELECT COUNT(*) FROM list_items i WHERE i.list_id = l.id)
		 FROM lists l WHERE l.user_id = $1 ORDER BY l.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listRepo.ListByUser query: %w", err)
	}
	defer rows.Close()
	var lists []model.List
	for rows.Next() {
		var l model.List
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.MediaType, &l.CreatedAt, &l.ItemCount); err != nil {
			return nil, fmt.Errorf("listRepo.ListByUser scan: %w", err)
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

func (r *ListRepository) Rename(ctx context.Context, id, name string) error {
	defer logger.DeferLogDuration("list.Rename", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE lists SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("listRepo.Rename: %w", err)
	}
	return nil
}

func (r *ListRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("list.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM lists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("listRepo.Delete: %w", err)
	}
	return nil
}

func (r *ListRepository) Items(ctx context.Context, listID string) ([]model.ListItem, error) {
	defer logger.DeferLogDuration("list.Items", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, list_id, tmdb_id, media_type, added_at
		 FROM list_items WHERE list_id = $1 ORDER BY added_at DESC`, listID)
	if err != nil {
		return nil, fmt.Errorf("listRepo.Items query: %w", err)
	}
	defer rows.Close()
	items := []model.ListItem{}
	for rows.Next() {
		var it model.ListItem
		if err := rows.Scan(&it.ID, &it.ListID, &it.TMDBID, &it.MediaType, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("listRepo.Items scan: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// AddItem — повторное добавление той же пары (tmdb_id, media_type) не ошибка.
func (r *ListRepository) AddItem(ctx context.Context, it *model.ListItem) (bool, error) {
	defer logger.DeferLogDuration("list.AddItem", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO list_items (id, list_id, tmdb_id, media_type, added_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (list_id, tmdb_id, media_type) DO NOTHING`,
		it.ID, it.ListID, it.TMDBID, it.MediaType, it.AddedAt)
	if err != nil {
		return false, fmt.Errorf("listRepo.AddItem: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ListRepository) RemoveItem(ctx context.Context, listID, itemID string) (bool, error) {
	defer logger.DeferLogDuration("list.RemoveItem", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM list_items WHERE id = $1 AND list_id = $2`, itemID, listID)
	if err != nil {
		return false, fmt.Errorf("listRepo.RemoveItem: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
