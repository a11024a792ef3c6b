// Package concat merges canonical primitive clips into one MP4. Inputs are
// trusted to already match the canonical profile; the merge still re-encodes,
// because copy-mode concat has produced audio sample-rate mismatches in the
// field and is forbidden here.
package concat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkang/shadowclip/internal/clip"
	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/internal/subtitle"
	"github.com/mkang/shadowclip/pkg/log"
)

// filterInputLimit is the largest merge handled by the multi-input concat
// filter; beyond it the demuxer manifest path scales better.
const filterInputLimit = 5

var (
	ErrNoInputs     = errors.New("no inputs to concatenate")
	ErrInputMissing = errors.New("concat input missing")
	ErrMismatch     = errors.New("concat input does not match canonical profile")
)

// Encoder is the slice of the media tool driver the engine needs.
type Encoder interface {
	Run(ctx context.Context, args []string) (ffmpeg.Result, error)
	Inspect(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// Options adjusts a merge.
type Options struct {
	// Title1 and Title2 are burned over the merged output when non-empty.
	Title1 string
	Title2 string
	// TitleDuration bounds how long the titles stay on screen; 0 shows them
	// for the whole output.
	TitleDuration float64
	Layout        subtitle.Layout
}

// Engine performs merges inside a scratch directory.
type Engine struct {
	enc     Encoder
	scratch string
}

// New returns a merge engine writing manifests and title scripts to
// scratchDir.
func New(enc Encoder, scratchDir string) *Engine {
	return &Engine{enc: enc, scratch: scratchDir}
}

// Merge concatenates inputs, in order, into out. The emission order of the
// inputs is preserved exactly.
func (e *Engine) Merge(ctx context.Context, inputs []string, out string, opts Options) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}
	if err := e.checkInputs(ctx, inputs, opts.Layout); err != nil {
		return err
	}

	titleFilter, cleanup, err := e.titleFilter(opts)
	if err != nil {
		return err
	}
	if cleanup != "" {
		defer os.Remove(cleanup)
	}

	var args []string
	if len(inputs) <= filterInputLimit {
		args = filterConcatArgs(inputs, out, titleFilter)
	} else {
		manifest, err := e.writeManifest(inputs)
		if err != nil {
			return err
		}
		defer os.Remove(manifest)
		args = demuxerConcatArgs(manifest, out, titleFilter)
	}

	log.Debug("concatenating %d clips into %s", len(inputs), filepath.Base(out))
	res, err := e.enc.Run(ctx, args)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ffmpeg.ExecError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// checkInputs verifies each input exists and carries the canonical geometry.
// A mismatch is a programming error upstream, not a recoverable condition.
func (e *Engine) checkInputs(ctx context.Context, inputs []string, layout subtitle.Layout) error {
	wantW, wantH := layout.Resolution()
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return fmt.Errorf("%w: %s", ErrInputMissing, in)
		}
		info, err := e.enc.Inspect(ctx, in)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", filepath.Base(in), err)
		}
		if info.Video == nil || info.Audio == nil {
			return fmt.Errorf("%w: %s lacks a video or audio stream", ErrMismatch, filepath.Base(in))
		}
		if info.Video.Width != wantW || info.Video.Height != wantH {
			return fmt.Errorf("%w: %s is %dx%d, want %dx%d",
				ErrMismatch, filepath.Base(in), info.Video.Width, info.Video.Height, wantW, wantH)
		}
		if info.Audio.SampleRate != clip.AudioSampleRate || info.Audio.Channels != clip.AudioChannels {
			return fmt.Errorf("%w: %s audio is %dHz/%dch",
				ErrMismatch, filepath.Base(in), info.Audio.SampleRate, info.Audio.Channels)
		}
	}
	return nil
}

// titleFilter renders the optional title overlay as an ass filter clause.
// The second return is the script path to remove after the merge.
func (e *Engine) titleFilter(opts Options) (string, string, error) {
	if opts.Title1 == "" && opts.Title2 == "" {
		return "", "", nil
	}
	duration := opts.TitleDuration
	if duration <= 0 {
		// Long enough to cover any realistic lesson.
		duration = 3600
	}
	script, err := subtitle.TitleScript(opts.Title1, opts.Title2, opts.Layout, duration)
	if err != nil {
		return "", "", err
	}
	path := filepath.Join(e.scratch, "title.ass")
	if err := script.WriteFile(path); err != nil {
		return "", "", fmt.Errorf("write title script: %w", err)
	}
	return fmt.Sprintf("ass='%s'", ffmpeg.EscapeFilterPath(path)), path, nil
}

// filterConcatArgs builds the multi-input concat filter command with explicit
// stream mapping. This path resolves timestamp drift between inputs.
func filterConcatArgs(inputs []string, out, titleFilter string) []string {
	args := []string{"-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	var graph strings.Builder
	for i := range inputs {
		fmt.Fprintf(&graph, "[%d:v][%d:a]", i, i)
	}
	fmt.Fprintf(&graph, "concat=n=%d:v=1:a=1", len(inputs))
	if titleFilter != "" {
		fmt.Fprintf(&graph, "[vcat][outa];[vcat]%s[outv]", titleFilter)
	} else {
		graph.WriteString("[outv][outa]")
	}

	args = append(args, "-filter_complex", graph.String(), "-map", "[outv]", "-map", "[outa]")
	args = append(args, clip.VideoArgs()...)
	args = append(args, clip.AudioArgs()...)
	args = append(args, "-movflags", "+faststart", out)
	return args
}

// demuxerConcatArgs builds the manifest-driven concat command, still with a
// full re-encode.
func demuxerConcatArgs(manifest, out, titleFilter string) []string {
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", manifest}
	if titleFilter != "" {
		args = append(args, "-vf", titleFilter)
	}
	args = append(args, clip.VideoArgs()...)
	args = append(args, clip.AudioArgs()...)
	args = append(args, "-movflags", "+faststart", out)
	return args
}

// writeManifest emits a concat-demuxer file list preserving input order.
func (e *Engine) writeManifest(inputs []string) (string, error) {
	var b strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&b, "file '%s'\n", ffmpeg.EscapeConcatPath(in))
	}
	path := filepath.Join(e.scratch, "concat_list.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write concat manifest: %w", err)
	}
	return path, nil
}
