package passrender

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesPDF(t *testing.T) {
	r := NewRenderer(nil)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	out, err := r.Render(Pass{
		StudentName: "Asha Verma",
		RollNumber:  "2300123",
		HostelBlock: "D-Block",
		Floor:       "2",
		Kind:        "outing",
		Direction:   "outgoing",
		Purpose:     "Medical visit",
		Token:       "header.payload.signature",
		ValidFrom:   now,
		ValidUntil:  now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRequiresToken(t *testing.T) {
	_, err := NewRenderer(nil).Render(Pass{StudentName: "x"})
	assert.Error(t, err)
}

func TestGlyphIsStablePerToken(t *testing.T) {
	a, err := Glyph("token-a")
	require.NoError(t, err)
	again, err := Glyph("token-a")
	require.NoError(t, err)
	b, err := Glyph("token-b")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)

	img, err := png.Decode(bytes.NewReader(a))
	require.NoError(t, err)
	assert.Equal(t, glyphPx, img.Bounds().Dx())
}
