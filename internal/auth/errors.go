package auth

import "errors"

var (
	// ErrInvalidCredentials covers bad email/password pairs at login. It maps
	// to 401 without revealing which half was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountInactive is returned when a deactivated account authenticates
	// with otherwise valid credentials or presents a valid refresh token.
	ErrAccountInactive = errors.New("auth: account inactive")

	// ErrInvalidToken covers missing, malformed, expired and revoked tokens
	// of either kind.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrPermissionDenied is returned when an authenticated user lacks a
	// required permission.
	ErrPermissionDenied = errors.New("auth: permission denied")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)
