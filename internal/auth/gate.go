// Package auth consumes the authentication gate: it verifies the bearer
// token presented at connect time and extracts the participant identity.
// Token issuance belongs to the external gate; Sign exists only so dev
// setups and tests can run without one.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vizioway/meet/internal/domain"
)

var ErrAuthFailed = errors.New("authentication failed")

// Gate resolves a bearer token into an identity.
type Gate interface {
	GetIdentity(token string) (domain.User, error)
}

// JWTGate verifies HMAC-signed tokens carrying userId and name claims,
// the same shape the gate's jsonwebtoken issuer produces.
type JWTGate struct {
	secret []byte
}

func NewJWTGate(secret string) *JWTGate {
	return &JWTGate{secret: []byte(secret)}
}

type claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

func (g *JWTGate) GetIdentity(token string) (domain.User, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	user, err := domain.NewUser(domain.UserID(c.UserID), c.Name)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return user, nil
}

// UnverifiedIdentity decodes the claims without checking the signature.
// For local display only; the relay always verifies.
func UnverifiedIdentity(token string) (domain.User, error) {
	var c claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return domain.NewUser(domain.UserID(c.UserID), c.Name)
}

// Sign mints a token the gate would accept. Dev and test helper.
func Sign(secret string, user domain.User, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: string(user.ID),
		Name:   user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return t.SignedString([]byte(secret))
}
