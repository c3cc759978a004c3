package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Auth errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrAuthRejected       = errors.New("connection rejected: authentication failed")

	// Test errors
	ErrTestNotFound = errors.New("test not found")
	ErrInvalidTest  = errors.New("invalid test")
)
