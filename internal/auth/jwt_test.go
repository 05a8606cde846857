package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parley/pkg/types"
)

var testUser = &types.User{ID: "user-1", Email: "ada@example.com"}

func TestAuthenticator_GenerateAndValidate(t *testing.T) {
	a := NewAuthenticator("secret", TokenTTLs{})

	token, issued, err := a.GenerateToken(testUser, types.TokenTypeAccess)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := a.ValidateToken(token, types.TokenTypeAccess)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID() != "user-1" || claims.Email != "ada@example.com" {
		t.Errorf("Unexpected claims: %+v", claims)
	}
	if claims.ID == "" || claims.ID != issued.ID {
		t.Errorf("Expected jti %q, got %q", issued.ID, claims.ID)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 30*time.Minute {
		t.Errorf("Expected 30m access lifetime, got %v", got)
	}
}

func TestAuthenticator_DefaultTTLs(t *testing.T) {
	a := NewAuthenticator("secret", TokenTTLs{Access: time.Minute})

	if a.TTL(types.TokenTypeAccess) != time.Minute {
		t.Error("Explicit TTL should be kept")
	}
	if a.TTL(types.TokenTypeRefresh) != 7*24*time.Hour {
		t.Error("Refresh TTL should default to 7 days")
	}
	if a.TTL(types.TokenTypePasswordReset) != 15*time.Minute {
		t.Error("Reset TTL should default to 15 minutes")
	}
}

func TestAuthenticator_WrongType(t *testing.T) {
	a := NewAuthenticator("secret", TokenTTLs{})
	token, _, _ := a.GenerateToken(testUser, types.TokenTypeRefresh)

	if _, err := a.ValidateToken(token, types.TokenTypeAccess); err != ErrWrongTokenType {
		t.Errorf("Expected ErrWrongTokenType, got %v", err)
	}
}

func TestAuthenticator_Expired(t *testing.T) {
	a := NewAuthenticator("secret", TokenTTLs{})
	start := time.Now()
	a.now = func() time.Time { return start }
	token, _, _ := a.GenerateToken(testUser, types.TokenTypePasswordReset)

	a.now = func() time.Time { return start.Add(16 * time.Minute) }
	if _, err := a.ValidateToken(token, types.TokenTypePasswordReset); err != ErrExpiredToken {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestAuthenticator_RejectsForgeries(t *testing.T) {
	a := NewAuthenticator("secret", TokenTTLs{})
	other := NewAuthenticator("other-secret", TokenTTLs{})

	foreign, _, _ := other.GenerateToken(testUser, types.TokenTypeAccess)
	if _, err := a.ValidateToken(foreign, types.TokenTypeAccess); err != ErrInvalidToken {
		t.Errorf("Token signed with another key: expected ErrInvalidToken, got %v", err)
	}

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Type: types.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ID:        "jti",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := a.ValidateToken(unsigned, types.TokenTypeAccess); err != ErrInvalidToken {
		t.Errorf("alg=none: expected ErrInvalidToken, got %v", err)
	}

	valid, _, _ := a.GenerateToken(testUser, types.TokenTypeAccess)
	tampered := valid[:len(valid)-2] + strings.Repeat("x", 2)
	if _, err := a.ValidateToken(tampered, types.TokenTypeAccess); err != ErrInvalidToken {
		t.Errorf("Tampered signature: expected ErrInvalidToken, got %v", err)
	}

	if _, err := a.ValidateToken("garbage", types.TokenTypeAccess); err != ErrInvalidToken {
		t.Errorf("Garbage: expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticator_GeneratePair(t *testing.T) {
	a := NewAuthenticator("secret", TokenTTLs{})
	pair, err := a.GeneratePair(testUser)
	if err != nil {
		t.Fatalf("GeneratePair failed: %v", err)
	}
	if pair.TokenType != "bearer" {
		t.Errorf("Expected bearer token type, got %s", pair.TokenType)
	}
	if _, err := a.ValidateToken(pair.AccessToken, types.TokenTypeAccess); err != nil {
		t.Errorf("Access token invalid: %v", err)
	}
	if _, err := a.ValidateToken(pair.RefreshToken, types.TokenTypeRefresh); err != nil {
		t.Errorf("Refresh token invalid: %v", err)
	}
}

func TestPassword_Strength(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"abc12345", true},
		{"Sup3rSecret!", true},
		{"short1", false},
		{"allletters", false},
		{"12345678", false},
		{strings.Repeat("a1", 37), false},
	}
	for _, tt := range tests {
		err := ValidatePasswordStrength(tt.password)
		if (err == nil) != tt.valid {
			t.Errorf("ValidatePasswordStrength(%q) = %v, want valid=%v", tt.password, err, tt.valid)
		}
	}
}

func TestPassword_HashAndCheck(t *testing.T) {
	hash, err := HashPassword("abc12345")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "abc12345" {
		t.Error("Hash must not equal the password")
	}
	if !CheckPassword(hash, "abc12345") {
		t.Error("Correct password should match")
	}
	if CheckPassword(hash, "abc12346") {
		t.Error("Wrong password should not match")
	}
}
