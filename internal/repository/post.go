package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

type PostRepository struct {
	pool *pgxpool.Pool
}

func NewPostRepository(pool *pgxpool.Pool) *PostRepository {
	return &PostRepository{pool: pool}
}

const postSelect = `SELECT p.id, p.user_id, p.content, p.rating, p.tmdb_id, p.media_type, p.created_at,
	u.id, u.display_name, COALESCE(u.telegram_username,''), u.avatar_url, u.user_status, u.is_online, u.last_seen_at
	FROM posts p JOIN users u ON u.id = p.user_id`

func scanPost(s interface{ Scan(dest ...any) error }) (model.Post, error) {
	var p model.Post
	author := &model.UserPublic{}
	err := s.Scan(&p.ID, &p.UserID, &p.Content, &p.Rating, &p.TMDBID, &p.MediaType, &p.CreatedAt,
		&author.ID, &author.DisplayName, &author.TelegramUsername, &author.AvatarURL, &author.UserStatus, &author.IsOnline, &author.LastSeenAt)
	if err != nil {
		return p, err
	}
	p.Author = author
	return p, nil
}

func (r *PostRepository) Create(ctx context.Context, p *model.Post) error {
	defer logger.DeferLogDuration("post.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO posts (id, user_id, content, rating, tmdb_id, media_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.UserID, p.Content, p.Rating, p.TMDBID, p.MediaType, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postRepo.Create: %w", err)
	}
	return nil
}

func (r *PostRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	defer logger.DeferLogDuration("post.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx, postSelect+` WHERE p.id = $1`, id)
	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postRepo.GetByID: %w", err)
	}
	if err := r.loadReactions(ctx, []*model.Post{&p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// Wall — посты одного пользователя, свежие первыми.
func (r *PostRepository) Wall(ctx context.Context, userID string, limit, offset int) ([]model.Post, error) {
	defer logger.DeferLogDuration("post.Wall", time.Now())()
	rows, err := r.pool.Query(ctx,
		postSelect+` WHERE p.user_id = $1 ORDER BY p.created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postRepo.Wall query: %w", err)
	}
	return r.collect(ctx, rows, "Wall", limit)
}

// Feed — свои посты плюс посты принятых друзей.
func (r *PostRepository) Feed(ctx context.Context, userID string, limit, offset int) ([]model.Post, error) {
	defer logger.DeferLogDuration("post.Feed", time.Now())()
	rows, err := r.pool.Query(ctx,
		postSelect+` WHERE p.user_id = $1 OR p.user_id IN (
		   SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
		   FROM friendships
		   WHERE (requester_id = $1 OR addressee_id = $1) AND status = 'accepted'
		 )
		 ORDER BY p.created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postRepo.Feed query: %w", err)
	}
	return r.collect(ctx, rows, "Feed", limit)
}

func (r *PostRepository) collect(ctx context.Context, rows pgx.Rows, op string, limit int) ([]model.Post, error) {
	defer rows.Close()
	posts := make([]model.Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("postRepo.%s scan: %w", op, err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postRepo.%s rows: %w", op, err)
	}
	ptrs := make([]*model.Post, len(posts))
	for i := range posts {
		ptrs[i] = &posts[i]
	}
	if err := r.loadReactions(ctx, ptrs); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *PostRepository) loadReactions(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	byID := make(map[string]*model.Post, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
		byID[p.ID] = p
	}
	rows, err := r.pool.Query(ctx,
		`SELECT post_id, user_id, emoji, created_at
		 FROM post_reactions WHERE post_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return fmt.Errorf("postRepo.loadReactions query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var re model.Reaction
		if err := rows.Scan(&re.PostID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return fmt.Errorf("postRepo.loadReactions scan: %w", err)
		}
		if p, ok := byID[re.PostID]; ok {
			p.Reactions = append(p.Reactions, re)
		}
	}
	return rows.Err()
}

// Delete удаляет пост. asAdmin обходит проверку владельца.
func (r *PostRepository) Delete(ctx context.Context, postID, userID string, asAdmin bool) (bool, error) {
	defer logger.DeferLogDuration("post.Delete", time.Now())()
	var (
		tag pgconn.CommandTag
		err error
	)
	if asAdmin {
		tag, err = r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	} else {
		tag, err = r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1 AND user_id = $2`, postID, userID)
	}
	if err != nil {
		return false, fmt.Errorf("postRepo.Delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddReaction — повторная реакция тем же emoji не ошибка (ON CONFLICT DO NOTHING).
// Возвращает true, если реакция действительно добавлена.
func (r *PostRepository) AddReaction(ctx context.Context, postID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("post.AddReaction", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO post_reactions (post_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, NOW()) ON CONFLICT DO NOTHING`,
		postID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("postRepo.AddReaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostRepository) RemoveReaction(ctx context.Context, postID, userID, emoji string) error {
	defer logger.DeferLogDuration("post.RemoveReaction", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM post_reactions WHERE post_id = $1 AND user_id = $2 AND emoji = $3`,
		postID, userID, emoji)
	if err != nil {
		return fmt.Errorf("postRepo.RemoveReaction: %w", err)
	}
	return nil
}
