package core

import (
	"time"
)

// User is a directory entry: the display details the call UI needs to
// render an incoming-call prompt. The calling layer is a read-only
// consumer of the suite's user directory.
type User struct {
	ID        UserID    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	AvatarURL *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// UserDirectory resolves a user ID to display details.
type UserDirectory interface {
	Find(id UserID) (*User, error)
}
