package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

func TestProbeValidator(t *testing.T) {
	v := NewProbeValidator(filepath.Join("testdata", "mock_ffprobe_streams.sh"), 500*time.Millisecond)

	assert.True(t, v.IsReachable(t.Context(), "rtmp://cam/live"))
	assert.False(t, v.IsReachable(t.Context(), "rtmp://cam/offline"))

	start := time.Now()
	assert.False(t, v.IsReachable(t.Context(), "rtmp://cam/hang"))
	assert.Less(t, time.Since(start), 4*time.Second)

	missing := NewProbeValidator(filepath.Join(t.TempDir(), "nope"), 0)
	assert.Equal(t, 10*time.Second, missing.Timeout)
	assert.False(t, missing.IsReachable(t.Context(), "rtmp://cam/live"))
}

func TestThumbnailer(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "rec.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o600))

	th := NewFFmpegThumbnailer(filepath.Join("testdata", "mock_thumb.sh"), "")
	assert.Equal(t, "00:00:05", th.Offset)

	out := ThumbnailPath(filepath.Join(dir, "thumbs"), video)
	assert.Equal(t, filepath.Join(dir, "thumbs", "rec.jpg"), out)

	require.NoError(t, th.Generate(t.Context(), video, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "JPEG", string(data))

	err = th.Generate(t.Context(), filepath.Join(dir, "missing.mp4"), out)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRuntime))
}

func TestThumbnailArgs(t *testing.T) {
	th := NewFFmpegThumbnailer("ffmpeg", "00:00:10")
	args := th.ThumbnailArgs("/rec/a.mp4", "/thumbs/a.jpg")
	assert.Equal(t, "/thumbs/a.jpg", args[len(args)-1])
	assert.Subset(t, args, []string{"-ss", "00:00:10", "-i", "/rec/a.mp4", "-frames:v", "1", "-q:v", "2"})
	assert.Equal(t, "/rec/a.jpg", ThumbnailPath("", "/rec/a.mp4"))
}
