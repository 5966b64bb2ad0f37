package apperrors

import (
	"errors"
)

var (
	ErrNoRefreshToken = errors.New("no refresh token stored")
	ErrRefreshFailed  = errors.New("session refresh failed")

	ErrNotAuthenticated = errors.New("not authenticated")

	ErrSecretNotFound = errors.New("secret not found")
)
