// Package clip materializes primitive clips. Every output conforms to the
// canonical encode profile so downstream concatenation never has to inspect
// or normalize inputs.
package clip

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/internal/subtitle"
	"github.com/mkang/shadowclip/internal/tts"
)

// Encoder is the slice of the media tool driver the factory needs.
type Encoder interface {
	Run(ctx context.Context, args []string) (ffmpeg.Result, error)
	Duration(ctx context.Context, path string) (float64, error)
}

// FitMode selects how a wide source is fitted into the shorts frame.
type FitMode string

const (
	// FitCrop center-crops the source square before letterboxing.
	FitCrop FitMode = "crop"
	// FitLetterbox scales the full frame to fit, leaving top/bottom bars.
	FitLetterbox FitMode = "letterbox"
)

// TrimSpec is a re-encoded segment of a source video.
type TrimSpec struct {
	Source  string
	Start   float64
	End     float64
	Overlay *subtitle.Script
	Layout  subtitle.Layout
	// Speed is a playback-rate multiplier. 0 means natural speed.
	Speed float64
	// Fit applies to the shorts layout only.
	Fit FitMode
}

// FreezeSpec is a still frame held with matched silent audio.
type FreezeSpec struct {
	Source   string
	FrameAt  float64
	Duration float64
	Layout   subtitle.Layout
	// Fit applies to the shorts layout only.
	Fit FitMode
}

// BackgroundKind selects the still-background source for an ImageTTS clip.
type BackgroundKind string

const (
	BackgroundImage BackgroundKind = "image"
	BackgroundSolid BackgroundKind = "solid"
	BackgroundFrame BackgroundKind = "frame"
)

// Background describes the still canvas behind an ImageTTS clip.
type Background struct {
	Kind BackgroundKind
	// Path is the image file for BackgroundImage.
	Path string
	// Color is the canvas colour for BackgroundSolid, e.g. "black" or "#1A1A2E".
	Color string
	// Source and FrameAt locate the frame for BackgroundFrame.
	Source  string
	FrameAt float64
}

// TextOverlay is one drawn text row, styled by its subtitle role.
type TextOverlay struct {
	Text string
	Role subtitle.Role
}

// TTSSpec requests synthesized narration for an ImageTTS clip.
type TTSSpec struct {
	Text  string
	Voice string
	Rate  float64
}

// AudioExtract lifts the soundtrack of a source segment.
type AudioExtract struct {
	Source string
	Start  float64
	End    float64
}

// ImageTTSSpec is a still-background video synchronized to narration audio.
type ImageTTSSpec struct {
	Background Background
	Overlays   []TextOverlay
	// At most one of TTS, AudioFile or AudioExtract supplies the soundtrack;
	// with none the clip carries generated silence for Duration seconds.
	TTS          *TTSSpec
	AudioFile    string
	AudioExtract *AudioExtract
	// Duration of the clip. 0 means follow the audio length.
	Duration    float64
	LeadSilence float64
	TailSilence float64
	Layout      subtitle.Layout
}

const (
	trimTolerance   = 0.1
	freezeTolerance = 0.05
)

// ErrSourceNotFound marks a missing or unreadable input file.
var ErrSourceNotFound = errors.New("source not found")

// Factory builds primitive clips inside a job-scoped scratch directory.
// One factory serves one job; clips are numbered in emission order.
type Factory struct {
	enc     Encoder
	synth   tts.Synthesizer
	scratch string

	mu  sync.Mutex
	seq int
}

// NewFactory returns a factory writing into scratchDir. synth may be nil when
// no template with TTS narration will run.
func NewFactory(enc Encoder, synth tts.Synthesizer, scratchDir string) *Factory {
	return &Factory{enc: enc, synth: synth, scratch: scratchDir}
}

// next reserves the next sequenced scratch path.
func (f *Factory) next(kind, ext string) string {
	f.mu.Lock()
	f.seq++
	n := f.seq
	f.mu.Unlock()
	return filepath.Join(f.scratch, fmt.Sprintf("%03d_%s.%s", n, kind, ext))
}

// run invokes the encoder and folds a non-zero exit into an ExecError.
func (f *Factory) run(ctx context.Context, args []string) error {
	res, err := f.enc.Run(ctx, args)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ffmpeg.ExecError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// verifyDuration probes the emitted file and checks it is within tolerance
// of the requested duration.
func (f *Factory) verifyDuration(ctx context.Context, path string, want, tolerance float64) error {
	got, err := f.enc.Duration(ctx, path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}
	if math.Abs(got-want) > tolerance {
		return fmt.Errorf("duration mismatch for %s: want %.3fs, got %.3fs", filepath.Base(path), want, got)
	}
	return nil
}

// fitFilter is the geometry filter for a layout. Wide always letterboxes;
// shorts crops square by default.
func fitFilter(layout subtitle.Layout, fit FitMode) string {
	if layout == subtitle.LayoutShorts && fit != FitLetterbox {
		return CropSquareFilter(layout)
	}
	return ScaleFilter(layout)
}

func checkSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, path)
	}
	return nil
}

// SeedSequence advances the scratch numbering past n, so resumed jobs never
// overwrite clips from an earlier run.
func (f *Factory) SeedSequence(n int) {
	f.mu.Lock()
	if n > f.seq {
		f.seq = n
	}
	f.mu.Unlock()
}
