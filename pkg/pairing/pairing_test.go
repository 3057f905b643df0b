package pairing

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageDataURI(t *testing.T) {
	uri, err := ImageDataURI("2@abcdef0123456789")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, dataURIPrefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, dataURIPrefix))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, imageSize, img.Bounds().Dx())
	assert.Equal(t, imageSize, img.Bounds().Dy())
}

func TestImageDataURI_DistinctChallenges(t *testing.T) {
	a, err := ImageDataURI("challenge-a")
	require.NoError(t, err)
	b, err := ImageDataURI("challenge-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
