package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PassLink is the content of a signed gate-pass download link.
type PassLink struct {
	RequestID string
	Direction string
	ExpiresAt time.Time
}

// LinkSigner creates and validates signed gate-pass download tokens.
type LinkSigner struct {
	secret []byte
	now    func() time.Time
}

// NewLinkSigner constructs a signer with the provided secret.
func NewLinkSigner(secret string) *LinkSigner {
	return &LinkSigner{secret: []byte(secret), now: time.Now}
}

// Generate returns a token for one pass of a request, valid until expiresAt.
func (s *LinkSigner) Generate(requestID, direction string, expiresAt time.Time) (string, error) {
	if requestID == "" || direction == "" {
		return "", fmt.Errorf("requestID and direction required")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret missing")
	}
	encodedID := base64.RawURLEncoding.EncodeToString([]byte(requestID))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	signature := s.sign(encodedID, direction, ts)
	return strings.Join([]string{encodedID, direction, ts, signature}, "."), nil
}

// Parse validates a token and returns the link it describes.
func (s *LinkSigner) Parse(token string) (*PassLink, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid token format")
	}
	encodedID, direction, ts, signature := parts[0], parts[1], parts[2], parts[3]

	expected := s.sign(encodedID, direction, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("invalid token signature")
	}
	rawID, err := base64.RawURLEncoding.DecodeString(encodedID)
	if err != nil {
		return nil, fmt.Errorf("decode request id: %w", err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp")
	}
	expiresAt := time.Unix(expUnix, 0)
	if s.now().After(expiresAt) {
		return nil, fmt.Errorf("token expired")
	}
	return &PassLink{RequestID: string(rawID), Direction: direction, ExpiresAt: expiresAt}, nil
}

func (s *LinkSigner) sign(encodedID, direction, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encodedID + "|" + direction + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
