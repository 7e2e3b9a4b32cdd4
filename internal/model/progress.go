package model

import "time"

// EpisodeProgress — отметка о просмотренной серии.
type EpisodeProgress struct {
	UserID        string    `json:"user_id"`
	SeriesTMDBID  int64     `json:"series_tmdb_id"`
	SeasonNumber  int       `json:"season_number"`
	EpisodeNumber int       `json:"episode_number"`
	WatchedAt     time.Time `json:"watched_at"`
}

// SeriesProgress — прогресс по сериалу, сгруппированный по сезонам.
type SeriesProgress struct {
	SeriesTMDBID int64         `json:"series_tmdb_id"`
	Watched      []EpisodeMark `json:"watched"`
}

type EpisodeMark struct {
	SeasonNumber  int       `json:"season_number"`
	EpisodeNumber int       `json:"episode_number"`
	WatchedAt     time.Time `json:"watched_at"`
}
