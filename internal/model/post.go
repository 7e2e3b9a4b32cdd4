package model

import "time"

type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// ValidMediaType сообщает, поддерживается ли тип медиа.
func ValidMediaType(t MediaType) bool {
	return t == MediaTypeMovie || t == MediaTypeTV
}

// Post — запись на стене: оценка, рецензия или просто статус.
// TMDBID и MediaType заполнены, когда запись привязана к фильму/сериалу.
type Post struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Content   string      `json:"content"`
	Rating    *int        `json:"rating,omitempty"`
	TMDBID    *int64      `json:"tmdb_id,omitempty"`
	MediaType *MediaType  `json:"media_type,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Author    *UserPublic `json:"author,omitempty"`
	Reactions []Reaction  `json:"reactions,omitempty"`
}

type Reaction struct {
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup — агрегат реакций одного emoji для отображения.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// GroupReactions сворачивает список реакций в группы, сохраняя порядок первого появления emoji.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	var order []string
	byEmoji := make(map[string]*ReactionGroup)
	for _, r := range reactions {
		g, ok := byEmoji[r.Emoji]
		if !ok {
			g = &ReactionGroup{Emoji: r.Emoji}
			byEmoji[r.Emoji] = g
			order = append(order, r.Emoji)
		}
		g.Count++
		g.Users = append(g.Users, r.UserID)
	}
	groups := make([]ReactionGroup, 0, len(order))
	for _, e := range order {
		groups = append(groups, *byEmoji[e])
	}
	return groups
}
