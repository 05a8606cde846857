package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrPersistFailed     = errors.New("message not persisted")
)
