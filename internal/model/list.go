package model

import "time"

// List — именованная пользовательская подборка, ограниченная одним типом медиа.
type List struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	MediaType MediaType  `json:"media_type"`
	CreatedAt time.Time  `json:"created_at"`
	Items     []ListItem `json:"items,omitempty"`
	ItemCount int        `json:"item_count"`
}

// ListItem ссылается на (tmdb_id, media_type), собственных записей о медиа нет.
type ListItem struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	TMDBID    int64     `json:"tmdb_id"`
	MediaType MediaType `json:"media_type"`
	AddedAt   time.Time `json:"added_at"`
}

// WatchlistEntry — элемент единственного списка "посмотреть позже".
// Уникальность по (user_id, tmdb_id, media_type).
type WatchlistEntry struct {
	UserID    string    `json:"user_id"`
	TMDBID    int64     `json:"tmdb_id"`
	MediaType MediaType `json:"media_type"`
	AddedAt   time.Time `json:"added_at"`
}
