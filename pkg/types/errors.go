package types

import "errors"

// Validation errors shared by the REST layer and the stores
var (
	ErrInvalidEmail    = errors.New("email address is not valid")
	ErrInvalidName     = errors.New("name must be at most 200 characters")
	ErrInvalidID       = errors.New("id must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidContent  = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
	ErrDuplicate       = errors.New("record already exists")
)
