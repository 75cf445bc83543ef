// Package sentinel defines store-boundary errors. Stores wrap these with %w;
// services translate them into domain errors before they reach a handler.
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
)
