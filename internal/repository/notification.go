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

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, content, related_post_id, related_user_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Content, n.RelatedPostID, n.RelatedUserID, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id, userID string) (*model.Notification, error) {
	defer logger.DeferLogDuration("notif.GetByID", time.Now())()
	n := &model.Notification{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, type, content, related_post_id, related_user_id, is_read, created_at
		 FROM notifications WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&n.ID, &n.UserID, &n.Type, &n.Content, &n.RelatedPostID, &n.RelatedUserID, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notifRepo.GetByID: %w", err)
	}
	return n, nil
}

// List — последние уведомления пользователя (дропдаун показывает 15).
func (r *NotificationRepository) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notif.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, content, related_post_id, related_user_id, is_read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.List query: %w", err)
	}
	defer rows.Close()
	list := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Content, &n.RelatedPostID, &n.RelatedUserID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notifRepo.List scan: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.List rows: %w", err)
	}
	return list, nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("notif.UnreadCount", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.UnreadCount: %w", err)
	}
	return n, nil
}

// MarkRead переводит is_read false→true. Обратного перехода нет; повторный вызов не ошибка.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("notif.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2 AND NOT is_read`,
		id, userID)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkRead: %w", err)
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("notif.MarkAllRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkAllRead: %w", err)
	}
	return nil
}
