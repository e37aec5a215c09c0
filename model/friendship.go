package model

import "time"

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)

// Friendship is the relationship row of an unordered user pair. UserLow is
// always the lexically smaller id. A pending row is directed by RequesterID.
type Friendship struct {
	UserLow     string           `gorm:"primaryKey;type:varchar(36)"`
	UserHigh    string           `gorm:"primaryKey;type:varchar(36)"`
	RequesterID string           `gorm:"not null;type:varchar(36)"`
	Status      FriendshipStatus `gorm:"not null;index;type:varchar(16)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PairOf orders two ids into (low, high).
func PairOf(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Peer returns the other side of the pair.
func (f *Friendship) Peer(userID string) string {
	if f.UserLow == userID {
		return f.UserHigh
	}
	return f.UserLow
}

type RequestDirection string

const (
	Incoming RequestDirection = "incoming"
	Outgoing RequestDirection = "outgoing"
)

// PendingRequest is a friend request seen from one user's side.
type PendingRequest struct {
	User      Profile          `json:"user"`
	Status    RequestDirection `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

type FriendRequests struct {
	Incoming []PendingRequest `json:"incoming"`
	Outgoing []PendingRequest `json:"outgoing"`
}

// Models lists every table owned by the service, in migration order.
func Models() []any {
	return []any{
		&User{},
		&Chat{},
		&ChatMember{},
		&Message{},
		&MessageRead{},
		&Friendship{},
	}
}
