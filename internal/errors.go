package shop

import "errors"

// Sentinel errors for the shop domain.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrBanned            = errors.New("user is banned")
	ErrTokenExpired      = errors.New("token expired")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRateLimited       = errors.New("too many requests")
)
