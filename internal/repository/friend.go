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

// ErrAlreadyExists — запрос/дружба для пары уже есть (уникальность без учёта направления).
var ErrAlreadyExists = errors.New("already exists")

type FriendRepository struct {
	pool *pgxpool.Pool
}

func NewFriendRepository(pool *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{pool: pool}
}

func (r *FriendRepository) CreateRequest(ctx context.Context, f *model.Friendship) error {
	defer logger.DeferLogDuration("friend.CreateRequest", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM friendships
		   WHERE (requester_id = $1 AND addressee_id = $2) OR (requester_id = $2 AND addressee_id = $1)
		 )`, f.RequesterID, f.AddresseeID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("friendRepo.CreateRequest check: %w", err)
	}
	if exists {
		return ErrAlreadyExists
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO friendships (id, requester_id, addressee_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.RequesterID, f.AddresseeID, f.Status, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.CreateRequest: %w", err)
	}
	return nil
}

func (r *FriendRepository) GetByID(ctx context.Context, id string) (*model.Friendship, error) {
	defer logger.DeferLogDuration("friend.GetByID", time.Now())()
	f := &model.Friendship{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, requester_id, addressee_id, status, created_at, accepted_at
		 FROM friendships WHERE id = $1`, id,
	).Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.CreatedAt, &f.AcceptedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("friendRepo.GetByID: %w", err)
	}
	return f, nil
}

// Accept переводит запрос pending → accepted. false — запрос не найден или уже принят.
func (r *FriendRepository) Accept(ctx context.Context, id string) (bool, error) {
	defer logger.DeferLogDuration("friend.Accept", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE friendships SET status = 'accepted', accepted_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("friendRepo.Accept: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete убирает дружбу или отменяет/отклоняет запрос. Разрешено любому из пары.
func (r *FriendRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	defer logger.DeferLogDuration("friend.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM friendships WHERE id = $1 AND (requester_id = $2 OR addressee_id = $2)`, id, userID)
	if err != nil {
		return false, fmt.Errorf("friendRepo.Delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Overview собирает экран "Друзья": принятые + входящие и исходящие запросы.
func (r *FriendRepository) Overview(ctx context.Context, userID string) (*model.FriendsOverview, error) {
	defer logger.DeferLogDuration("friend.Overview", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT f.id, f.status, f.requester_id, f.created_at,
		        u.id, u.display_name, COALESCE(u.telegram_username,''), u.avatar_url, u.user_status, u.is_online, u.last_seen_at
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END
		 WHERE f.requester_id = $1 OR f.addressee_id = $1
		 ORDER BY f.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.Overview query: %w", err)
	}
	defer rows.Close()

	ov := &model.FriendsOverview{
		Friends:  []model.UserPublic{},
		Incoming: []model.FriendRequest{},
		Outgoing: []model.FriendRequest{},
	}
	for rows.Next() {
		var (
			id, requesterID string
			status          model.FriendshipStatus
			createdAt       time.Time
			u               model.UserPublic
		)
		if err := rows.Scan(&id, &status, &requesterID, &createdAt,
			&u.ID, &u.DisplayName, &u.TelegramUsername, &u.AvatarURL, &u.UserStatus, &u.IsOnline, &u.LastSeenAt); err != nil {
			return nil, fmt.Errorf("friendRepo.Overview scan: %w", err)
		}
		switch {
		case status == model.FriendshipAccepted:
			ov.Friends = append(ov.Friends, u)
		case requesterID == userID:
			ov.Outgoing = append(ov.Outgoing, model.FriendRequest{ID: id, User: u, CreatedAt: createdAt})
		default:
			ov.Incoming = append(ov.Incoming, model.FriendRequest{ID: id, User: u, CreatedAt: createdAt})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.Overview rows: %w", err)
	}
	return ov, nil
}

// FriendIDs возвращает id принятых друзей (для ленты).
func (r *FriendRepository) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("friend.FriendIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
		 FROM friendships
		 WHERE (requester_id = $1 OR addressee_id = $1) AND status = 'accepted'`, userID)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.FriendIDs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("friendRepo.FriendIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
