package model

import "time"

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)

// Friendship — запрос в друзья и принятая дружба одной строкой.
// Пара (requester_id, addressee_id) уникальна без учёта направления.
type Friendship struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requester_id"`
	AddresseeID string           `json:"addressee_id"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	AcceptedAt  *time.Time       `json:"accepted_at,omitempty"`
}

// FriendRequest — входящий/исходящий запрос со сведениями о втором участнике.
type FriendRequest struct {
	ID        string     `json:"id"`
	User      UserPublic `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
}

// FriendsOverview — друзья и запросы одним ответом (экран "Друзья").
type FriendsOverview struct {
	Friends  []UserPublic    `json:"friends"`
	Incoming []FriendRequest `json:"incoming_requests"`
	Outgoing []FriendRequest `json:"outgoing_requests"`
}
