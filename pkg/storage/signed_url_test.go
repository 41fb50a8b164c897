package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkSignerGenerateAndParse(t *testing.T) {
	signer := NewLinkSigner("secret")
	expiresAt := time.Now().Add(time.Hour)
	token, err := signer.Generate("req-1", "outgoing", expiresAt)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	link, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "req-1", link.RequestID)
	require.Equal(t, "outgoing", link.Direction)
	require.WithinDuration(t, expiresAt, link.ExpiresAt, time.Second)
}

func TestLinkSignerRejectsTampering(t *testing.T) {
	signer := NewLinkSigner("secret")
	token, err := signer.Generate("req-1", "outgoing", time.Now().Add(time.Hour))
	require.NoError(t, err)

	forged := strings.Replace(token, ".outgoing.", ".return.", 1)
	_, err = signer.Parse(forged)
	require.Error(t, err)

	_, err = NewLinkSigner("other").Parse(token)
	require.Error(t, err)
}

func TestLinkSignerExpired(t *testing.T) {
	signer := NewLinkSigner("secret")
	token, err := signer.Generate("req-1", "return", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = signer.Parse(token)
	require.Error(t, err)
}

func TestLinkSignerRequiresSecret(t *testing.T) {
	_, err := NewLinkSigner("").Generate("req-1", "return", time.Now())
	require.Error(t, err)
}
