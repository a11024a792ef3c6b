package concat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/internal/subtitle"
)

type fakeEncoder struct {
	calls [][]string
	info  func(path string) *ffmpeg.MediaInfo
}

func canonicalWide(string) *ffmpeg.MediaInfo {
	return &ffmpeg.MediaInfo{
		Duration: 3,
		Video:    &ffmpeg.VideoStream{Codec: "h264", Width: 1920, Height: 1080, PixFmt: "yuv420p", FrameRate: 30},
		Audio:    &ffmpeg.AudioStream{Codec: "aac", SampleRate: 48000, Channels: 2},
	}
}

func (f *fakeEncoder) Run(_ context.Context, args []string) (ffmpeg.Result, error) {
	f.calls = append(f.calls, append([]string(nil), args...))
	return ffmpeg.Result{ExitCode: 0}, nil
}

func (f *fakeEncoder) Inspect(_ context.Context, path string) (*ffmpeg.MediaInfo, error) {
	if f.info != nil {
		return f.info(path), nil
	}
	return canonicalWide(path), nil
}

func writeClips(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%03d_trim.mp4", i+1))
		require.NoError(t, os.WriteFile(paths[i], []byte("x"), 0644))
	}
	return paths
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestMergeFewInputsUsesConcatFilter(t *testing.T) {
	enc := &fakeEncoder{}
	e := New(enc, t.TempDir())
	inputs := writeClips(t, 3)

	out := filepath.Join(t.TempDir(), "merged.mp4")
	require.NoError(t, e.Merge(context.Background(), inputs, out, Options{Layout: subtitle.LayoutWide}))
	require.Len(t, enc.calls, 1)

	args := enc.calls[0]
	graph := argValue(args, "-filter_complex")
	assert.Equal(t, "[0:v][0:a][1:v][1:a][2:v][2:a]concat=n=3:v=1:a=1[outv][outa]", graph)
	assert.Equal(t, "[outv]", argValue(args, "-map"))
	assert.Equal(t, "libx264", argValue(args, "-c:v"))
	assert.Equal(t, "+faststart", argValue(args, "-movflags"))

	// Inputs appear in emission order.
	joined := strings.Join(args, " ")
	assert.Less(t, strings.Index(joined, "001_trim"), strings.Index(joined, "002_trim"))
	assert.Less(t, strings.Index(joined, "002_trim"), strings.Index(joined, "003_trim"))
}

func TestMergeManyInputsUsesDemuxerManifest(t *testing.T) {
	enc := &fakeEncoder{}
	scratch := t.TempDir()
	inputs := writeClips(t, 7)

	// Snapshot the manifest while it still exists.
	var manifestContent string
	e := New(&manifestCapturingEncoder{fakeEncoder: enc, content: &manifestContent}, scratch)

	out := filepath.Join(t.TempDir(), "merged.mp4")
	require.NoError(t, e.Merge(context.Background(), inputs, out, Options{Layout: subtitle.LayoutWide}))
	require.Len(t, enc.calls, 1)

	args := enc.calls[0]
	assert.Equal(t, "concat", argValue(args, "-f"))
	assert.Equal(t, "0", argValue(args, "-safe"))
	assert.Contains(t, argValue(args, "-i"), "concat_list.txt")
	// Re-encode is mandatory even on the demuxer path.
	assert.Equal(t, "libx264", argValue(args, "-c:v"))
	assert.Equal(t, "aac", argValue(args, "-c:a"))

	require.NotEmpty(t, manifestContent)
	lines := strings.Split(strings.TrimSpace(manifestContent), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "file '"))
	assert.Contains(t, lines[0], "001_trim.mp4")
	assert.Contains(t, lines[6], "007_trim.mp4")
}

// manifestCapturingEncoder snapshots the manifest while it still exists.
type manifestCapturingEncoder struct {
	*fakeEncoder
	content *string
}

func (m *manifestCapturingEncoder) Run(ctx context.Context, args []string) (ffmpeg.Result, error) {
	if path := argValue(args, "-i"); strings.HasSuffix(path, "concat_list.txt") {
		data, err := os.ReadFile(path)
		if err == nil {
			*m.content = string(data)
		}
	}
	return m.fakeEncoder.Run(ctx, args)
}

func TestMergeTitleOverlay(t *testing.T) {
	enc := &fakeEncoder{}
	e := New(enc, t.TempDir())
	inputs := writeClips(t, 2)

	out := filepath.Join(t.TempDir(), "merged.mp4")
	require.NoError(t, e.Merge(context.Background(), inputs, out, Options{
		Layout: subtitle.LayoutWide,
		Title1: "Lesson 3",
		Title2: "Greetings",
	}))

	graph := argValue(enc.calls[0], "-filter_complex")
	assert.Contains(t, graph, "concat=n=2:v=1:a=1[vcat][outa]")
	assert.Contains(t, graph, "[vcat]ass='")
	assert.Contains(t, graph, "title.ass")
}

func TestMergeValidation(t *testing.T) {
	enc := &fakeEncoder{}
	e := New(enc, t.TempDir())

	err := e.Merge(context.Background(), nil, "out.mp4", Options{Layout: subtitle.LayoutWide})
	assert.ErrorIs(t, err, ErrNoInputs)

	err = e.Merge(context.Background(), []string{"/missing/clip.mp4"}, "out.mp4", Options{Layout: subtitle.LayoutWide})
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestMergeRejectsProfileMismatch(t *testing.T) {
	enc := &fakeEncoder{info: func(string) *ffmpeg.MediaInfo {
		return &ffmpeg.MediaInfo{
			Duration: 3,
			Video:    &ffmpeg.VideoStream{Codec: "h264", Width: 1280, Height: 720, PixFmt: "yuv420p"},
			Audio:    &ffmpeg.AudioStream{Codec: "aac", SampleRate: 48000, Channels: 2},
		}
	}}
	e := New(enc, t.TempDir())
	inputs := writeClips(t, 2)

	err := e.Merge(context.Background(), inputs, "out.mp4", Options{Layout: subtitle.LayoutWide})
	assert.ErrorIs(t, err, ErrMismatch)
	assert.Empty(t, enc.calls)
}

func TestMergeRejectsAudioMismatch(t *testing.T) {
	enc := &fakeEncoder{info: func(string) *ffmpeg.MediaInfo {
		return &ffmpeg.MediaInfo{
			Duration: 3,
			Video:    &ffmpeg.VideoStream{Codec: "h264", Width: 1920, Height: 1080, PixFmt: "yuv420p"},
			Audio:    &ffmpeg.AudioStream{Codec: "aac", SampleRate: 44100, Channels: 2},
		}
	}}
	e := New(enc, t.TempDir())
	inputs := writeClips(t, 2)

	err := e.Merge(context.Background(), inputs, "out.mp4", Options{Layout: subtitle.LayoutWide})
	assert.ErrorIs(t, err, ErrMismatch)
	assert.Contains(t, err.Error(), "44100")
}
