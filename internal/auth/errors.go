package auth

import "errors"

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrRevokedToken   = errors.New("token has been revoked")
)

var (
	ErrWeakPassword       = errors.New("password must be 8-72 characters and contain a letter and a digit")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMailDelivery       = errors.New("could not send email")
)
