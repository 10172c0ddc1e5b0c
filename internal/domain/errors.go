package domain

import "errors"

// Common errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidID       = errors.New("invalid id")
	ErrForbidden       = errors.New("access forbidden: resource belongs to another tenant")
	ErrVersionConflict = errors.New("record was modified concurrently")
)
