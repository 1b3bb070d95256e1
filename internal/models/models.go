package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"password,omitempty"` // bcrypt digest; stripped on provider-facing responses
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile returns the public part of the user that is safe to embed in
// other records.
func (u *User) Profile() *PublicProfile {
	return &PublicProfile{ID: u.ID, Email: u.Email, Avatar: u.Avatar}
}

type PublicProfile struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

type Message struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	User      *PublicProfile `json:"user,omitempty"` // populated on read, never persisted
}

// UserInput is the client-writable part of a user.
type UserInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	// Avatar is derived from Email by the service and ignored on input.
	Avatar string `json:"-"`
}

// MessageInput is the client-writable part of a message.
type MessageInput struct {
	Body string `json:"body"`

	// UserID is stamped from the verified session. Any value a client
	// sends under "userId" is discarded.
	UserID string `json:"-"`

	CreatedAt time.Time `json:"-"`
}
