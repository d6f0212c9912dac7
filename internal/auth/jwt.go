// Package auth issues and verifies the bearer tokens that carry a caller's
// roles.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"coursepipe/internal/domain"
)

// DefaultIssuer is the issuer the API signs and expects.
const DefaultIssuer = "coursepipe"

// Claims are the JWT claims understood by the API.
type Claims struct {
	Roles []domain.Role `json:"roles"`
	jwt.RegisteredClaims
}

// JWTAuthority signs and verifies HS256 tokens with a shared secret.
type JWTAuthority struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTAuthority(secret, issuer string) (*JWTAuthority, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &JWTAuthority{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue returns a signed token for subject with the given roles.
func (a *JWTAuthority) Issue(subject string, roles []domain.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("auth: subject is required")
	}
	now := a.now()
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the principal it names. Every failure
// wraps domain.ErrUnauthorized.
func (a *JWTAuthority) Verify(token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, fmt.Errorf("%w: empty token", domain.ErrUnauthorized)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return domain.Principal{}, fmt.Errorf("%w: unexpected issuer %q", domain.ErrUnauthorized, claims.Issuer)
	}
	return domain.Principal{Subject: claims.Subject, Roles: claims.Roles}, nil
}
