package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parley/internal/cache"
	"parley/internal/mail"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

const revokedKeyPrefix = "revoked:"

// verifyTimeout bounds the revocation lookup made by Verify, which has no
// caller context.
const verifyTimeout = 2 * time.Second

// Service implements account flows on top of a UserStore. It also serves as
// the interfaces.AuthGateway for the real-time layer and the REST middleware.
type Service struct {
	users         interfaces.UserStore
	authenticator *Authenticator
	cache         cache.Cache
	mailer        mail.Mailer
	logger        *zap.Logger
}

var _ interfaces.AuthGateway = (*Service)(nil)

// NewService wires the auth flows. A nil cache falls back to an in-memory
// one; revocations then do not survive restarts.
func NewService(users interfaces.UserStore, authenticator *Authenticator, c cache.Cache, mailer mail.Mailer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Service{
		users:         users,
		authenticator: authenticator,
		cache:         c,
		mailer:        mailer,
		logger:        logger.Named("auth"),
	}
}

// Signup registers a new account and signs it in
func (s *Service) Signup(ctx context.Context, email, password string, name *string) (*types.User, *types.TokenPair, error) {
	email = types.NormalizeEmail(email)
	if err := types.ValidateEmail(email); err != nil {
		return nil, nil, err
	}
	if err := types.ValidateName(name); err != nil {
		return nil, nil, err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := &types.User{Email: email, Name: name, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, err
	}

	pair, err := s.authenticator.GeneratePair(user)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return user, pair, nil
}

// Signin checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Signin(ctx context.Context, email, password string) (*types.User, *types.TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.authenticator.GeneratePair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is consumed, so of two concurrent redemptions only one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	claims, err := s.validateUnrevoked(ctx, refreshToken, types.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, claims); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		s.release(claims)
		return nil, err
	}
	return s.authenticator.GeneratePair(user)
}

// ForgotPassword emails a reset link. Unknown addresses succeed silently so
// the endpoint cannot be used to discover accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			s.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return err
	}

	token, _, err := s.authenticator.GenerateToken(user, types.TokenTypePasswordReset)
	if err != nil {
		return err
	}

	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	if s.mailer == nil {
		return fmt.Errorf("%w: %v", ErrMailDelivery, mail.ErrNotConfigured)
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, name, token); err != nil {
		s.logger.Error("password reset email failed", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}
	return nil
}

// ResetPassword sets a new password using a reset token. Each token works once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.validateUnrevoked(ctx, token, types.TokenTypePasswordReset)
	if err != nil {
		return err
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	// A reset issued before an email change no longer applies
	if user.Email != claims.Email {
		return ErrInvalidToken
	}

	if err := s.claim(ctx, claims); err != nil {
		return err
	}
	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		s.release(claims)
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

// ChangePassword replaces the password of a signed-in user
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	return s.setPassword(ctx, user.ID, newPassword)
}

// Logout revokes an access token until it would have expired anyway
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.validateUnrevoked(ctx, accessToken, types.TokenTypeAccess)
	if err != nil {
		return err
	}
	return s.revoke(ctx, claims)
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (*types.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// Verify returns the user id of a valid, unrevoked access token
func (s *Service) Verify(token string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	claims, err := s.validateUnrevoked(ctx, token, types.TokenTypeAccess)
	if err != nil {
		return "", err
	}
	return claims.UserID(), nil
}

func (s *Service) Resolve(ctx context.Context, userID string) (*types.User, error) {
	return s.CurrentUser(ctx, userID)
}

func (s *Service) setPassword(ctx context.Context, userID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdateUserPassword(ctx, userID, hash)
}

func (s *Service) validateUnrevoked(ctx context.Context, token, tokenType string) (*Claims, error) {
	claims, err := s.authenticator.ValidateToken(token, tokenType)
	if err != nil {
		return nil, err
	}
	revoked, err := s.cache.Exists(ctx, revokedKeyPrefix+claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// claim consumes a single-use token by storing its jti with SetNX. Losing the
// race means another request already redeemed it.
func (s *Service) claim(ctx context.Context, claims *Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return ErrExpiredToken
	}
	won, err := s.cache.SetNX(ctx, revokedKeyPrefix+claims.ID, "1", ttl)
	if err != nil {
		return fmt.Errorf("claim token: %w", err)
	}
	if !won {
		return ErrRevokedToken
	}
	return nil
}

// release undoes a claim when the redemption failed for a transient reason,
// so the caller can retry with the same token.
func (s *Service) release(claims *Claims) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.cache.Del(ctx, revokedKeyPrefix+claims.ID); err != nil {
		s.logger.Warn("failed to release token claim", zap.String("jti", claims.ID), zap.Error(err))
	}
}

// revoke remembers the jti until the token would expire on its own
func (s *Service) revoke(ctx context.Context, claims *Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, revokedKeyPrefix+claims.ID, "1", ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
