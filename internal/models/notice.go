package models

import "time"

// Notice is a persisted in-app notification addressed to one user.
type Notice struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Title     string     `db:"title" json:"title"`
	Message   string     `db:"message" json:"message"`
	Type      string     `db:"type" json:"type"`
	RequestID *string    `db:"request_id" json:"request_id,omitempty"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// NoticeFilter narrows notice listings.
type NoticeFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
