package models

import (
	"time"
)

// User is the cached projection of the account on the server.
// It may lag the server slightly; only responses that carry a user
// payload (login, register, /users/me) are allowed to update it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}
