// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
	ErrIDEmpty     = errors.New("user id empty")
)

type UserID string

// User is the authenticated identity attached to a connection.
// It always comes from the token claims, never from a client payload.
type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

func NewUser(id UserID, name string) (User, error) {
	if id == "" {
		return User{}, ErrIDEmpty
	}
	if name == "" {
		return User{}, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return User{}, ErrNameTooLong
	}
	return User{ID: id, Name: name}, nil
}
