package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"parley/pkg/types"
)

// Claims is the payload of every token we issue. Subject carries the user
// id and ID the revocable jti.
type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim
func (c *Claims) UserID() string { return c.Subject }

// TokenTTLs sets the lifetime per token type
type TokenTTLs struct {
	Access        time.Duration
	Refresh       time.Duration
	PasswordReset time.Duration
}

func DefaultTokenTTLs() TokenTTLs {
	return TokenTTLs{
		Access:        30 * time.Minute,
		Refresh:       7 * 24 * time.Hour,
		PasswordReset: 15 * time.Minute,
	}
}

// Authenticator handles JWT generation and validation (HS256)
type Authenticator struct {
	secretKey []byte
	ttls      TokenTTLs
	now       func() time.Time
}

// NewAuthenticator creates a new Authenticator. Zero TTLs take defaults.
func NewAuthenticator(secretKey string, ttls TokenTTLs) *Authenticator {
	defaults := DefaultTokenTTLs()
	if ttls.Access <= 0 {
		ttls.Access = defaults.Access
	}
	if ttls.Refresh <= 0 {
		ttls.Refresh = defaults.Refresh
	}
	if ttls.PasswordReset <= 0 {
		ttls.PasswordReset = defaults.PasswordReset
	}
	return &Authenticator{
		secretKey: []byte(secretKey),
		ttls:      ttls,
		now:       time.Now,
	}
}

// TTL returns the configured lifetime of tokenType
func (a *Authenticator) TTL(tokenType string) time.Duration {
	switch tokenType {
	case types.TokenTypeRefresh:
		return a.ttls.Refresh
	case types.TokenTypePasswordReset:
		return a.ttls.PasswordReset
	default:
		return a.ttls.Access
	}
}

// GenerateToken signs a token of tokenType for user
func (a *Authenticator) GenerateToken(user *types.User, tokenType string) (string, *Claims, error) {
	now := a.now()
	claims := &Claims{
		Email: user.Email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL(tokenType))),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, claims, nil
}

// GeneratePair issues a fresh access and refresh token
func (a *Authenticator) GeneratePair(user *types.User) (*types.TokenPair, error) {
	access, _, err := a.GenerateToken(user, types.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := a.GenerateToken(user, types.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return &types.TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// ValidateToken parses tokenString and checks it carries expectedType
func (a *Authenticator) ValidateToken(tokenString, expectedType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Type != expectedType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
