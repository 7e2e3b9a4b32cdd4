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

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	defer logger.DeferLogDuration("session.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, client, created_at, last_seen_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULL)`,
		s.ID, s.UserID, s.TokenHash, s.Client, s.CreatedAt, s.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}
	return nil
}

// GetByTokenHash возвращает сессию только если она не отозвана (revoked_at IS NULL).
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	defer logger.DeferLogDuration("session.GetByTokenHash", time.Now())()
	s := &model.Session{}
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, client, created_at, last_seen_at, revoked_at
		 FROM sessions WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash)
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.Client, &s.CreatedAt, &s.LastSeenAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionRepo.GetByTokenHash: %w", err)
	}
	return s, nil
}

// ListByUserID — только активные сессии.
func (r *SessionRepository) ListByUserID(ctx context.Context, userID string) ([]model.Session, error) {
	defer logger.DeferLogDuration("session.ListByUserID", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, token_hash, client, created_at, last_seen_at, revoked_at
		 FROM sessions WHERE user_id = $1 AND revoked_at IS NULL ORDER BY last_seen_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByUserID: %w", err)
	}
	defer rows.Close()
	var list []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.Client, &s.CreatedAt, &s.LastSeenAt, &s.RevokedAt); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListByUserID scan: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *SessionRepository) UpdateLastSeen(ctx context.Context, sessionID string, t time.Time) error {
	defer logger.DeferLogDuration("session.UpdateLastSeen", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_seen_at = $1 WHERE id = $2 AND revoked_at IS NULL`, t, sessionID)
	return err
}

// Revoke помечает сессию отозванной. Повторный отзыв не ошибка (идемпотентный logout).
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	defer logger.DeferLogDuration("session.Revoke", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("sessionRepo.Revoke: %w", err)
	}
	return nil
}

// RevokeByUserID отзывает все сессии пользователя (блокировка или удаление аккаунта).
func (r *SessionRepository) RevokeByUserID(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("session.RevokeByUserID", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("sessionRepo.RevokeByUserID: %w", err)
	}
	return nil
}
