// Package auth verifies player tokens and admin credentials.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrAdminDisabled means no admin password hash is configured.
	ErrAdminDisabled = errors.New("admin access disabled")
	// ErrBadCredentials is returned for a wrong admin password.
	ErrBadCredentials = errors.New("bad credentials")
)

// Tokens issues and verifies HS256 player tokens. The sub claim carries the
// player id.
type Tokens struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
}

// NewTokens creates a token service. clock may be nil.
func NewTokens(secret, issuer string, clock clockwork.Clock) (*Tokens, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, clock: clock}, nil
}

// Issue signs a token for playerID valid for ttl.
func (t *Tokens) Issue(playerID string, ttl time.Duration) (string, error) {
	if playerID == "" {
		return "", fmt.Errorf("player id is required")
	}
	now := t.clock.Now()
	claims := jwt.MapClaims{
		"iss": t.issuer,
		"sub": playerID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks the signature, expiry and issuer and returns the player id.
func (t *Tokens) Verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if _, ok := claims["exp"]; !ok {
		return "", fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if t.issuer != "" && !claims.VerifyIssuer(t.issuer, true) {
		return "", fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return sub, nil
}

// Admin checks the admin password against a bcrypt hash.
type Admin struct {
	hash []byte
}

// NewAdmin creates a checker. An empty hash disables admin access.
func NewAdmin(hash string) (*Admin, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid admin password hash: %w", err)
		}
	}
	return &Admin{hash: []byte(hash)}, nil
}

// Enabled reports whether a hash is configured.
func (a *Admin) Enabled() bool { return len(a.hash) > 0 }

// Check compares password with the configured hash.
func (a *Admin) Check(password string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

// HashPassword produces a hash for the auth.admin_password_hash setting.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
