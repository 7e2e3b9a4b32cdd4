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

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create сохраняет сообщение вместе со вложениями одной транзакцией.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, sent_via_bot, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.SentViaBot, m.IsRead, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	for i := range m.Attachments {
		a := &m.Attachments[i]
		a.MessageID = m.ID
		a.Position = i
		_, err = tx.Exec(ctx,
			`INSERT INTO message_attachments (id, message_id, mimetype, path, original_name, size_bytes, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, a.MessageID, a.Mimetype, a.Path, a.OriginalName, a.Size, a.Position,
		)
		if err != nil {
			return fmt.Errorf("msgRepo.Create attachment: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, sender_id, receiver_id, content, sent_via_bot, is_read, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.SentViaBot, &m.IsRead, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	if err := r.loadAttachments(ctx, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// GetConversation возвращает окно диалога пары (userID, otherID): страница с конца
// (offset 0 — самые свежие), внутри ответа сообщения упорядочены по возрастанию created_at.
func (r *MessageRepository) GetConversation(ctx context.Context, userID, otherID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.sender_id, m.receiver_id, m.content, m.sent_via_bot, m.is_read, m.created_at,
		        u.id, u.display_name, COALESCE(u.telegram_username,''), u.avatar_url, u.user_status, u.is_online, u.last_seen_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE (m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1)
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $3 OFFSET $4`, userID, otherID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation query: %w", err)
	}
	defer rows.Close()

	page := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.SentViaBot, &m.IsRead, &m.CreatedAt,
			&sender.ID, &sender.DisplayName, &sender.TelegramUsername, &sender.AvatarURL, &sender.UserStatus, &sender.IsOnline, &sender.LastSeenAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetConversation scan: %w", err)
		}
		m.Sender = sender
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation rows: %w", err)
	}

	// Разворачиваем: запрос идёт от свежих к старым, клиент ждёт возрастание.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	ptrs := make([]*model.Message, len(page))
	for i := range page {
		ptrs[i] = &page[i]
	}
	if err := r.loadAttachments(ctx, ptrs); err != nil {
		return nil, err
	}
	return page, nil
}

// loadAttachments дозагружает вложения для набора сообщений одним запросом.
func (r *MessageRepository) loadAttachments(ctx context.Context, messages []*model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	byID := make(map[string]*model.Message, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, message_id, mimetype, path, original_name, size_bytes, position
		 FROM message_attachments WHERE message_id = ANY($1) ORDER BY message_id, position`, ids)
	if err != nil {
		return fmt.Errorf("msgRepo.loadAttachments query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Mimetype, &a.Path, &a.OriginalName, &a.Size, &a.Position); err != nil {
			return fmt.Errorf("msgRepo.loadAttachments scan: %w", err)
		}
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return rows.Err()
}

// ListConversations собирает список диалогов пользователя: собеседник,
// последнее сообщение и число непрочитанных. Таблицы диалогов нет — пары выводятся из messages.
func (r *MessageRepository) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("msg.ListConversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`WITH pairs AS (
		   SELECT DISTINCT ON (other_id) other_id, id AS last_id
		   FROM (
		     SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS other_id,
		            id, created_at
		     FROM messages
		     WHERE sender_id = $1 OR receiver_id = $1
		   ) t
		   ORDER BY other_id, created_at DESC, id DESC
		 )
		 SELECT u.id, u.display_name, COALESCE(u.telegram_username,''), u.avatar_url, u.user_status, u.is_online, u.last_seen_at,
		        m.id, m.sender_id, m.receiver_id, m.content, m.sent_via_bot, m.is_read, m.created_at,
		        (SELECT COUNT(*) FROM messages x
		         WHERE x.sender_id = pairs.other_id AND x.receiver_id = $1 AND NOT x.is_read)
		 FROM pairs
		 JOIN users u ON u.id = pairs.other_id
		 JOIN messages m ON m.id = pairs.last_id
		 ORDER BY m.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListConversations query: %w", err)
	}
	defer rows.Close()

	var list []model.Conversation
	for rows.Next() {
		var c model.Conversation
		last := &model.Message{}
		if err := rows.Scan(&c.User.ID, &c.User.DisplayName, &c.User.TelegramUsername, &c.User.AvatarURL, &c.User.UserStatus, &c.User.IsOnline, &c.User.LastSeenAt,
			&last.ID, &last.SenderID, &last.ReceiverID, &last.Content, &last.SentViaBot, &last.IsRead, &last.CreatedAt,
			&c.UnreadCount); err != nil {
			return nil, fmt.Errorf("msgRepo.ListConversations scan: %w", err)
		}
		c.LastMessage = last
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListConversations rows: %w", err)
	}

	lasts := make([]*model.Message, 0, len(list))
	for i := range list {
		if list[i].LastMessage != nil {
			lasts = append(lasts, list[i].LastMessage)
		}
	}
	if err := r.loadAttachments(ctx, lasts); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkConversationRead помечает прочитанными входящие сообщения от otherID.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, userID, otherID string) error {
	defer logger.DeferLogDuration("msg.MarkConversationRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE sender_id = $1 AND receiver_id = $2 AND NOT is_read`,
		otherID, userID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkConversationRead: %w", err)
	}
	return nil
}
