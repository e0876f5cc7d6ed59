package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPrompt   = errors.New("invalid prompt")
	ErrDuplicatePrompt = errors.New("duplicate prompt")
	ErrInvalidImage    = errors.New("invalid image")
)
