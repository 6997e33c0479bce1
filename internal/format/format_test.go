package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"mov", "mp4", "webm"}, GetSupportedFormats())

	mp4, err := Get("mp4")
	require.NoError(t, err)
	assert.Equal(t, "h264", mp4.GetVideoCodec())
	assert.Equal(t, "video/mp4", mp4.GetMimeType())

	_, err = Get("avi")
	require.Error(t, err)
	assert.Equal(t, "unsupported format: avi", err.Error())
}

func TestPlayability(t *testing.T) {
	mp4, _ := Get("mp4")
	webm, _ := Get("webm")
	mov, _ := Get("mov")

	assert.True(t, mp4.IsPlayable("h264"))
	assert.False(t, mp4.IsPlayable("hevc"))
	assert.True(t, webm.IsPlayable("vp9"))
	assert.False(t, webm.IsPlayable("h264"))
	assert.False(t, mov.IsPlayable("h264"))
}

func TestByMimeType(t *testing.T) {
	f, ok := ByMimeType("video/webm")
	require.True(t, ok)
	assert.Equal(t, "webm", f.GetName())

	_, ok = ByMimeType("video/x-msvideo")
	assert.False(t, ok)
}
