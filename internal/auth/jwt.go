// Package auth issues and verifies the HS256 bearer tokens that identify the
// actor behind every mutation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ai4hf/passport/internal/config"
	"github.com/ai4hf/passport/internal/roles"
)

// Claims carries the actor identity. The subject is the person id.
type Claims struct {
	Name  string    `json:"name,omitempty"`
	Roles roles.Set `json:"roles"`
	jwt.RegisteredClaims
}

// PersonID returns the subject claim.
func (c *Claims) PersonID() string { return c.Subject }

// TokenService signs and validates tokens with a shared secret.
type TokenService struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenService creates a token service from the auth configuration.
func NewTokenService(cfg config.AuthConfig) (*TokenService, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	return &TokenService{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// Issue creates a token for a person.
func (s *TokenService) Issue(personID, name string, rs roles.Set, expiresIn time.Duration) (string, error) {
	if personID == "" {
		return "", errors.New("person id is required")
	}
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	now := s.now()
	claims := &Claims{
		Name:  name,
		Roles: rs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   personID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a token and checks signature, expiry, issuer and audience.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(30 * time.Second),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
