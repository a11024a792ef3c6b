package clip

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/internal/subtitle"
	"github.com/mkang/shadowclip/internal/tts"
)

// fakeEncoder records every argument vector and replays scripted results.
type fakeEncoder struct {
	calls     [][]string
	exitCodes []int     // popped per Run call; empty means success
	durations []float64 // popped per Duration call
}

func (f *fakeEncoder) Run(_ context.Context, args []string) (ffmpeg.Result, error) {
	f.calls = append(f.calls, append([]string(nil), args...))
	code := 0
	if len(f.exitCodes) > 0 {
		code = f.exitCodes[0]
		f.exitCodes = f.exitCodes[1:]
	}
	return ffmpeg.Result{ExitCode: code, Stderr: "scripted"}, nil
}

func (f *fakeEncoder) Duration(_ context.Context, _ string) (float64, error) {
	if len(f.durations) == 0 {
		return 0, nil
	}
	d := f.durations[0]
	f.durations = f.durations[1:]
	return d, nil
}

func (f *fakeEncoder) lastCall() []string {
	return f.calls[len(f.calls)-1]
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func argIndex(args []string, want string) int {
	for i, a := range args {
		if a == want {
			return i
		}
	}
	return -1
}

func argValue(args []string, flag string) string {
	i := argIndex(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestTrimFastSeekCommand(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{3.0}}
	f := NewFactory(enc, nil, t.TempDir())

	out, err := f.Trim(context.Background(), TrimSpec{
		Source: writeSource(t),
		Start:  12.5,
		End:    15.5,
		Layout: subtitle.LayoutWide,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, ".mp4"))
	require.Len(t, enc.calls, 1)

	args := enc.calls[0]
	// Fast seek puts -ss before -i.
	assert.Less(t, argIndex(args, "-ss"), argIndex(args, "-i"))
	assert.Equal(t, "12.500", argValue(args, "-ss"))
	assert.Equal(t, "3.000", argValue(args, "-t"))
	assert.Contains(t, argValue(args, "-vf"), "scale=1920:1080")
	assert.Equal(t, "libx264", argValue(args, "-c:v"))
	assert.Equal(t, "16", argValue(args, "-crf"))
	assert.Equal(t, "48000", argValue(args, "-ar"))
	assert.Equal(t, "+faststart", argValue(args, "-movflags"))
}

func TestTrimBurnsOverlay(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{2.0}}
	scratch := t.TempDir()
	f := NewFactory(enc, nil, scratch)

	script, err := subtitle.ScriptFromVariant(subtitle.Variant{
		English: "Hello", Korean: "안녕", Kind: subtitle.VariantFull,
	}, subtitle.LayoutWide, 2.0)
	require.NoError(t, err)

	_, err = f.Trim(context.Background(), TrimSpec{
		Source:  writeSource(t),
		Start:   0,
		End:     2,
		Overlay: &script,
		Layout:  subtitle.LayoutWide,
	})
	require.NoError(t, err)

	vf := argValue(enc.lastCall(), "-vf")
	assert.Contains(t, vf, "ass='")
	assert.Contains(t, vf, "001_trim.ass")

	// The overlay landed on disk inside scratch.
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".ass") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTrimRetriesWithAccurateSeekOnDrift(t *testing.T) {
	// First probe drifts past tolerance, second lands on target.
	enc := &fakeEncoder{durations: []float64{2.6, 3.0}}
	f := NewFactory(enc, nil, t.TempDir())

	_, err := f.Trim(context.Background(), TrimSpec{
		Source: writeSource(t),
		Start:  10,
		End:    13,
		Layout: subtitle.LayoutWide,
	})
	require.NoError(t, err)
	require.Len(t, enc.calls, 2)

	// The accurate pass cuts in the filter graph and rebases timestamps.
	retry := enc.calls[1]
	assert.Equal(t, -1, argIndex(retry, "-ss"))
	vf := argValue(retry, "-vf")
	assert.Contains(t, vf, "trim=start=10.000:end=13.000")
	assert.Contains(t, vf, "setpts=PTS-STARTPTS")
	af := argValue(retry, "-af")
	assert.Contains(t, af, "atrim=start=10.000:end=13.000")
	assert.Contains(t, af, "asetpts=PTS-STARTPTS")
}

func TestTrimRetriesOnEncodeFailure(t *testing.T) {
	enc := &fakeEncoder{exitCodes: []int{1, 0}, durations: []float64{3.0}}
	f := NewFactory(enc, nil, t.TempDir())

	_, err := f.Trim(context.Background(), TrimSpec{
		Source: writeSource(t),
		Start:  10,
		End:    13,
		Layout: subtitle.LayoutWide,
	})
	require.NoError(t, err)
	require.Len(t, enc.calls, 2)
	assert.Contains(t, argValue(enc.calls[1], "-vf"), "trim=start=10.000:end=13.000")
}

func TestTrimAccurateSeekKeepsOverlayTiming(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{2.5, 3.0 / 0.7}}
	scratch := t.TempDir()
	f := NewFactory(enc, nil, scratch)

	script, err := subtitle.ScriptFromVariant(subtitle.Variant{
		English: "Hello", Korean: "안녕", Kind: subtitle.VariantFull,
	}, subtitle.LayoutWide, 3.0)
	require.NoError(t, err)

	_, err = f.Trim(context.Background(), TrimSpec{
		Source:  writeSource(t),
		Start:   30,
		End:     33,
		Overlay: &script,
		Layout:  subtitle.LayoutWide,
		Speed:   0.7,
	})
	require.NoError(t, err)
	require.Len(t, enc.calls, 2)

	// Frames must be rebased to zero before the subtitle filter sees them,
	// and the speed change applies to the rebased clock.
	vf := argValue(enc.calls[1], "-vf")
	rebase := strings.Index(vf, "setpts=PTS-STARTPTS")
	speed := strings.Index(vf, "setpts=PTS/0.7000")
	burn := strings.Index(vf, "ass='")
	require.GreaterOrEqual(t, rebase, 0)
	require.GreaterOrEqual(t, speed, 0)
	require.GreaterOrEqual(t, burn, 0)
	assert.Less(t, rebase, speed)
	assert.Less(t, speed, burn)

	af := argValue(enc.calls[1], "-af")
	assert.Less(t, strings.Index(af, "asetpts=PTS-STARTPTS"), strings.Index(af, "atempo=0.7000"))
}

func TestTrimFailsAfterSecondDrift(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{2.0, 2.0}}
	f := NewFactory(enc, nil, t.TempDir())

	_, err := f.Trim(context.Background(), TrimSpec{
		Source: writeSource(t),
		Start:  10,
		End:    13,
		Layout: subtitle.LayoutWide,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration mismatch")
}

func TestTrimSpeedAdjustment(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{3.0 / 0.7}}
	f := NewFactory(enc, nil, t.TempDir())

	_, err := f.Trim(context.Background(), TrimSpec{
		Source: writeSource(t),
		Start:  0,
		End:    3,
		Layout: subtitle.LayoutWide,
		Speed:  0.7,
	})
	require.NoError(t, err)

	args := enc.lastCall()
	assert.Contains(t, argValue(args, "-vf"), "setpts=PTS/0.7000")
	assert.Equal(t, "atempo=0.7000", argValue(args, "-af"))
	assert.Equal(t, "4.286", argValue(args, "-t"))
}

func TestTrimShortsCropsSquare(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{2.0}}
	f := NewFactory(enc, nil, t.TempDir())

	_, err := f.Trim(context.Background(), TrimSpec{
		Source: writeSource(t),
		Start:  0,
		End:    2,
		Layout: subtitle.LayoutShorts,
	})
	require.NoError(t, err)
	vf := argValue(enc.lastCall(), "-vf")
	assert.Contains(t, vf, "crop='min(iw,ih)':'min(iw,ih)'")
	assert.Contains(t, vf, "pad=1080:1920")
}

func TestTrimShortsLetterboxMode(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{2.0}}
	f := NewFactory(enc, nil, t.TempDir())

	_, err := f.Trim(context.Background(), TrimSpec{
		Source: writeSource(t),
		Start:  0,
		End:    2,
		Layout: subtitle.LayoutShorts,
		Fit:    FitLetterbox,
	})
	require.NoError(t, err)
	vf := argValue(enc.lastCall(), "-vf")
	assert.NotContains(t, vf, "crop=")
	assert.Contains(t, vf, "scale=1080:1920:force_original_aspect_ratio=decrease")
}

func TestTrimRejectsBadInput(t *testing.T) {
	f := NewFactory(&fakeEncoder{}, nil, t.TempDir())

	_, err := f.Trim(context.Background(), TrimSpec{Source: "/nonexistent.mp4", Start: 0, End: 2})
	assert.ErrorContains(t, err, "source not found")

	_, err = f.Trim(context.Background(), TrimSpec{Source: writeSource(t), Start: 5, End: 2})
	assert.ErrorContains(t, err, "invalid trim range")
}

func TestFreezeCommandSequence(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{1.5}}
	f := NewFactory(enc, nil, t.TempDir())

	out, err := f.Freeze(context.Background(), FreezeSpec{
		Source:   writeSource(t),
		FrameAt:  29.9,
		Duration: 1.5,
		Layout:   subtitle.LayoutWide,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, ".mp4"))
	require.Len(t, enc.calls, 3)

	extract := enc.calls[0]
	assert.Equal(t, "29.900", argValue(extract, "-ss"))
	assert.Equal(t, "1", argValue(extract, "-frames:v"))

	silence := enc.calls[1]
	assert.Contains(t, argValue(silence, "-i"), "anullsrc=channel_layout=stereo:sample_rate=48000")
	assert.Equal(t, "pcm_s16le", argValue(silence, "-c:a"))
	assert.Equal(t, "1.500", argValue(silence, "-t"))

	final := enc.calls[2]
	assert.Equal(t, "1", argValue(final, "-loop"))
	assert.Equal(t, "aac", argValue(final, "-c:a"))
	assert.Equal(t, "192k", argValue(final, "-b:a"))
	assert.Equal(t, "48000", argValue(final, "-ar"))
	assert.Equal(t, "2", argValue(final, "-ac"))
}

func TestFreezeFollowsFitMode(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{1.5, 1.5}}
	f := NewFactory(enc, nil, t.TempDir())

	// Shorts default crops square, matching the trims around the gap.
	_, err := f.Freeze(context.Background(), FreezeSpec{
		Source:   writeSource(t),
		FrameAt:  29.9,
		Duration: 1.5,
		Layout:   subtitle.LayoutShorts,
	})
	require.NoError(t, err)
	vf := argValue(enc.lastCall(), "-vf")
	assert.Contains(t, vf, "crop='min(iw,ih)':'min(iw,ih)'")
	assert.Contains(t, vf, "pad=1080:1920")

	_, err = f.Freeze(context.Background(), FreezeSpec{
		Source:   writeSource(t),
		FrameAt:  29.9,
		Duration: 1.5,
		Layout:   subtitle.LayoutShorts,
		Fit:      FitLetterbox,
	})
	require.NoError(t, err)
	vf = argValue(enc.lastCall(), "-vf")
	assert.NotContains(t, vf, "crop=")
	assert.Contains(t, vf, "scale=1080:1920:force_original_aspect_ratio=decrease")
}

type fakeSynth struct {
	req tts.Request
}

func (s *fakeSynth) Synthesize(_ context.Context, req tts.Request) error {
	s.req = req
	return os.WriteFile(req.OutputPath, []byte("audio"), 0644)
}

func TestImageTTSWithSolidBackground(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{2.5, 2.5}}
	synth := &fakeSynth{}
	f := NewFactory(enc, synth, t.TempDir())

	_, err := f.ImageTTS(context.Background(), ImageTTSSpec{
		Background: Background{Kind: BackgroundSolid, Color: "#1A1A2E"},
		Overlays: []TextOverlay{
			{Text: "Speed Review", Role: subtitle.RoleTitle},
		},
		TTS:    &TTSSpec{Text: "안녕하세요", Voice: "ko-KR-SunHiNeural", Rate: 1.0},
		Layout: subtitle.LayoutWide,
	})
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", synth.req.Text)
	require.Len(t, enc.calls, 2)

	canvas := enc.calls[0]
	assert.Contains(t, argValue(canvas, "-i"), "color=c=#1A1A2E:s=1920x1080")

	final := enc.calls[1]
	vf := argValue(final, "-vf")
	assert.Contains(t, vf, "drawtext=text='Speed Review'")
	assert.Contains(t, vf, "x=(w-text_w)/2:y=(h-text_h)/2")
	assert.Equal(t, "2.500", argValue(final, "-t"))
}

func TestImageTTSSilencePadding(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{2.0, 3.5}}
	synth := &fakeSynth{}
	f := NewFactory(enc, synth, t.TempDir())

	_, err := f.ImageTTS(context.Background(), ImageTTSSpec{
		Background:  Background{Kind: BackgroundSolid},
		TTS:         &TTSSpec{Text: "hello"},
		LeadSilence: 0.5,
		TailSilence: 1.0,
		Layout:      subtitle.LayoutWide,
	})
	require.NoError(t, err)

	final := enc.lastCall()
	assert.Equal(t, "adelay=500:all=1,apad", argValue(final, "-af"))
	assert.Equal(t, "3.500", argValue(final, "-t"))
}

func TestImageTTSFrameBackground(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{4.0, 4.0}}
	f := NewFactory(enc, nil, t.TempDir())

	audio := filepath.Join(t.TempDir(), "narration.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("a"), 0644))

	_, err := f.ImageTTS(context.Background(), ImageTTSSpec{
		Background: Background{Kind: BackgroundFrame, Source: writeSource(t), FrameAt: 7.25},
		AudioFile:  audio,
		Layout:     subtitle.LayoutShorts,
	})
	require.NoError(t, err)
	require.Len(t, enc.calls, 2)

	extract := enc.calls[0]
	assert.Equal(t, "7.250", argValue(extract, "-ss"))
	assert.Contains(t, argValue(extract, "-vf"), "scale=1080:1920")
}

func TestImageTTSExtractsSourceAudio(t *testing.T) {
	enc := &fakeEncoder{durations: []float64{3.0, 3.0}}
	f := NewFactory(enc, nil, t.TempDir())
	src := writeSource(t)

	_, err := f.ImageTTS(context.Background(), ImageTTSSpec{
		Background:   Background{Kind: BackgroundFrame, Source: src, FrameAt: 10},
		AudioExtract: &AudioExtract{Source: src, Start: 10, End: 13},
		Layout:       subtitle.LayoutWide,
	})
	require.NoError(t, err)
	require.Len(t, enc.calls, 3)

	extract := enc.calls[1]
	assert.Equal(t, "10.000", argValue(extract, "-ss"))
	assert.Equal(t, "3.000", argValue(extract, "-t"))
	assert.Equal(t, "copy", argValue(extract, "-acodec"))
	assert.GreaterOrEqual(t, argIndex(extract, "-vn"), 0)
}

func TestImageTTSRequiresSynthesizer(t *testing.T) {
	f := NewFactory(&fakeEncoder{durations: []float64{1, 1}}, nil, t.TempDir())

	_, err := f.ImageTTS(context.Background(), ImageTTSSpec{
		Background: Background{Kind: BackgroundSolid},
		TTS:        &TTSSpec{Text: "hi"},
		Layout:     subtitle.LayoutWide,
	})
	assert.ErrorContains(t, err, "no TTS synthesizer")
}

func TestScratchFilesAreSequenced(t *testing.T) {
	f := NewFactory(&fakeEncoder{}, nil, "/scratch/job")
	assert.Equal(t, "/scratch/job/001_trim.mp4", f.next("trim", "mp4"))
	assert.Equal(t, "/scratch/job/002_frame.png", f.next("frame", "png"))
}
