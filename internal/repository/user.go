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

var ErrNotFound = errors.New("not found")

// userCols — список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, display_name, COALESCE(email,''), COALESCE(telegram_username,''), telegram_user_id, telegram_chat_id,
	avatar_url, user_status, theme, is_admin, is_blocked, post_ban_until,
	COALESCE(google_id,''), COALESCE(discord_id,''), is_online, last_seen_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.DisplayName, &u.Email, &u.TelegramUsername, &u.TelegramUserID, &u.TelegramChatID,
		&u.AvatarURL, &u.UserStatus, &u.Theme, &u.IsAdmin, &u.IsBlocked, &u.PostBanUntil,
		&u.GoogleID, &u.DiscordID, &u.IsOnline, &u.LastSeenAt, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	var email *string
	if u.Email != "" {
		email = &u.Email
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, email, telegram_username, telegram_user_id, telegram_chat_id,
		                    avatar_url, user_status, theme, is_admin, is_blocked, post_ban_until,
		                    google_id, discord_id, is_online, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13,''), NULLIF($14,''), $15, $16, $17)`,
		u.ID, u.DisplayName, email, u.TelegramUsername, u.TelegramUserID, u.TelegramChatID,
		u.AvatarURL, u.UserStatus, u.Theme, u.IsAdmin, u.IsBlocked, u.PostBanUntil,
		u.GoogleID, u.DiscordID, u.IsOnline, u.LastSeenAt, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByTelegramUserID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE telegram_user_id = $1`, telegramUserID)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByTelegramUserID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) Search(ctx context.Context, query string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.Search", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE display_name ILIKE $1 OR telegram_username ILIKE $1
		 ORDER BY display_name LIMIT $2`,
		"%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.Search query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.Search scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.Search rows: %w", err)
	}
	return users, nil
}

// AdminList — пользователи для панели модерации (поиск + пагинация).
func (r *UserRepository) AdminList(ctx context.Context, query string, limit, offset int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.AdminList", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE $1 = '' OR display_name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		query, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.AdminList query: %w", err)
	}
	defer rows.Close()
	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.AdminList scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.AdminList rows: %w", err)
	}
	return users, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`,
		online, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// UpdateProfile переписывает редактируемые поля профиля целиком (handler сливает частичный PATCH заранее).
func (r *UserRepository) UpdateProfile(ctx context.Context, userID, displayName, userStatus, avatarURL string, theme model.Theme) error {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET display_name = $1, user_status = $2, avatar_url = $3, theme = $4 WHERE id = $5`,
		displayName, userStatus, avatarURL, theme, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateProfile: %w", err)
	}
	return nil
}

// LinkTelegram привязывает Telegram-аккаунт к существующему пользователю.
func (r *UserRepository) LinkTelegram(ctx context.Context, userID string, telegramUserID, telegramChatID int64, telegramUsername string) error {
	defer logger.DeferLogDuration("user.LinkTelegram", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET telegram_user_id = $1, telegram_chat_id = $2, telegram_username = $3 WHERE id = $4`,
		telegramUserID, telegramChatID, telegramUsername, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.LinkTelegram: %w", err)
	}
	return nil
}

// SetBlocked выставляет или снимает блокировку (только для администратора).
func (r *UserRepository) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	defer logger.DeferLogDuration("user.SetBlocked", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET is_blocked = $1 WHERE id = $2`, blocked, userID)
	if err != nil {
		return fmt.Errorf("userRepo.SetBlocked: %w", err)
	}
	return nil
}

// SetPostBan задаёт запрет на публикации до указанного момента; nil снимает запрет.
func (r *UserRepository) SetPostBan(ctx context.Context, userID string, until *time.Time) error {
	defer logger.DeferLogDuration("user.SetPostBan", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET post_ban_until = $1 WHERE id = $2`, until, userID)
	if err != nil {
		return fmt.Errorf("userRepo.SetPostBan: %w", err)
	}
	return nil
}

// Delete удаляет пользователя насовсем (каскадом уходят сообщения, посты, уведомления и списки).
func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("user.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("userRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetOnline сбрасывает флаг is_online у всех (вызывается на старте API после рестарта).
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`)
	if err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}
