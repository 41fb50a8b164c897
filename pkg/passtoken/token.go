// Package passtoken signs and verifies self-describing gate-pass tokens.
package passtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const audience = "hostel-gate"

// ErrInvalidToken is returned for tampered, malformed or foreign tokens.
var ErrInvalidToken = errors.New("invalid pass token")

// Claims is everything a gate needs to check a pass offline.
type Claims struct {
	RequestID string `json:"rid"`
	StudentID string `json:"sid"`
	Direction string `json:"dir"`
	jwt.RegisteredClaims
}

// Deadline is the end of the validity window.
func (c *Claims) Deadline() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Pass describes the token to mint.
type Pass struct {
	RequestID  string
	StudentID  string
	Direction  string
	IssuedAt   time.Time
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Signer mints HS256 pass tokens.
type Signer struct {
	secret []byte
	issuer string
}

// NewSigner builds a signer. The secret must not be empty.
func NewSigner(secret, issuer string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("pass signing secret missing")
	}
	if issuer == "" {
		issuer = "hostel-permit-api"
	}
	return &Signer{secret: []byte(secret), issuer: issuer}, nil
}

// Sign returns a token unique per call; the jti is a fresh uuid.
func (s *Signer) Sign(p Pass) (string, error) {
	if p.RequestID == "" || p.StudentID == "" || p.Direction == "" {
		return "", fmt.Errorf("request, student and direction are required")
	}
	if !p.ValidUntil.After(p.ValidFrom) {
		return "", fmt.Errorf("pass window is empty")
	}
	claims := Claims{
		RequestID: p.RequestID,
		StudentID: p.StudentID,
		Direction: p.Direction,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   p.StudentID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			NotBefore: jwt.NewNumericDate(p.ValidFrom),
			ExpiresAt: jwt.NewNumericDate(p.ValidUntil),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign pass: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and returns the claims. Time bounds are only
// enforced when checkWindow is set, so expired passes can still be inspected.
func (s *Signer) Verify(raw string, checkWindow bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(s.issuer),
	}
	if !checkWindow {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
