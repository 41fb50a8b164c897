package passtoken

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPass(now time.Time) Pass {
	return Pass{
		RequestID:  "req-1",
		StudentID:  "stu-1",
		Direction:  "outgoing",
		IssuedAt:   now,
		ValidFrom:  now,
		ValidUntil: now.Add(24 * time.Hour),
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner("secret", "")
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)

	token, err := signer.Sign(newPass(now))
	require.NoError(t, err)

	claims, err := signer.Verify(token, true)
	require.NoError(t, err)
	assert.Equal(t, "req-1", claims.RequestID)
	assert.Equal(t, "stu-1", claims.StudentID)
	assert.Equal(t, "outgoing", claims.Direction)
	assert.True(t, claims.Deadline().Equal(now.Add(24*time.Hour)))
	assert.NotEmpty(t, claims.ID)
}

func TestTokensAreUnique(t *testing.T) {
	signer, err := NewSigner("secret", "")
	require.NoError(t, err)
	now := time.Now()

	first, err := signer.Sign(newPass(now))
	require.NoError(t, err)
	second, err := signer.Sign(newPass(now))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer, err := NewSigner("secret", "")
	require.NoError(t, err)
	token, err := signer.Sign(newPass(time.Now()))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = signer.Verify(tampered, true)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	other, err := NewSigner("other", "")
	require.NoError(t, err)
	_, err = other.Verify(token, true)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestVerifyWindow(t *testing.T) {
	signer, err := NewSigner("secret", "")
	require.NoError(t, err)
	past := time.Now().Add(-72 * time.Hour)

	token, err := signer.Sign(newPass(past))
	require.NoError(t, err)

	_, err = signer.Verify(token, true)
	assert.Error(t, err)

	claims, err := signer.Verify(token, false)
	require.NoError(t, err)
	assert.Equal(t, "req-1", claims.RequestID)
}

func TestSignRejectsEmptyWindow(t *testing.T) {
	signer, err := NewSigner("secret", "")
	require.NoError(t, err)
	now := time.Now()
	p := newPass(now)
	p.ValidUntil = now
	_, err = signer.Sign(p)
	assert.Error(t, err)

	_, err = NewSigner("", "")
	assert.Error(t, err)
}
