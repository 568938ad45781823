package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenParser reads the expiry of backend access tokens.
type TokenParser struct {
	secret  []byte
	methods []string
}

// NewTokenParser creates a parser. With a non-empty secret, tokens are
// verified against it using the given algorithms (HS256 when none are
// given). Without a secret, tokens are decoded but not verified.
func NewTokenParser(secret string, algorithms []string) *TokenParser {
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodHS256.Alg()}
	}
	return &TokenParser{secret: []byte(secret), methods: algorithms}
}

// Verifies reports whether signatures are checked.
func (p *TokenParser) Verifies() bool { return len(p.secret) > 0 }

// Expiry returns the token's exp claim. A token without exp returns the
// zero time. When verification is off, a token that is not a JWT also
// returns the zero time.
func (p *TokenParser) Expiry(token string) (time.Time, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, errors.New("empty token")
	}

	claims := jwt.MapClaims{}
	if p.Verifies() {
		_, err := jwt.ParseWithClaims(token, claims,
			func(*jwt.Token) (any, error) { return p.secret, nil },
			jwt.WithValidMethods(p.methods),
			jwt.WithLeeway(30*time.Second),
		)
		if err != nil {
			return time.Time{}, fmt.Errorf("verify token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return time.Time{}, nil
		}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("token exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
