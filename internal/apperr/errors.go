// Package apperr holds sentinel errors shared across layers. Match with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrBusy          = errors.New("generation already in progress")
	ErrInvalidImport = errors.New("invalid history import")
	ErrCorrupt       = errors.New("stored history is corrupt")
	ErrInvalidInput  = errors.New("invalid input")
)
