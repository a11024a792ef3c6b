package clip

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/pkg/file"
	"github.com/mkang/shadowclip/pkg/log"
)

// Trim cuts and re-encodes one segment of the source, optionally burning a
// subtitle script in. The fast-seek form (-ss before -i) is tried first; when
// the encode fails or the emitted duration drifts past 100ms the trim is
// rebuilt once with a frame-accurate filter-graph cut.
func (f *Factory) Trim(ctx context.Context, spec TrimSpec) (string, error) {
	if err := checkSource(spec.Source); err != nil {
		return "", err
	}
	if spec.Start < 0 || spec.End <= spec.Start {
		return "", fmt.Errorf("invalid trim range [%.3f, %.3f]", spec.Start, spec.End)
	}
	speed := spec.Speed
	if speed <= 0 {
		speed = 1.0
	}
	wantDuration := (spec.End - spec.Start) / speed

	out := f.next("trim", "mp4")
	overlayPath, err := f.writeOverlay(spec, out)
	if err != nil {
		return "", err
	}
	if err := f.run(ctx, f.trimArgs(spec, speed, overlayPath, out, false)); err != nil {
		var execErr *ffmpeg.ExecError
		if !errors.As(err, &execErr) {
			return "", err
		}
		log.Warn("fast-seek trim failed for %s [%.2f-%.2f], retrying with accurate seek: %v",
			spec.Source, spec.Start, spec.End, err)
		if err := f.run(ctx, f.trimArgs(spec, speed, overlayPath, out, true)); err != nil {
			return "", err
		}
		if err := f.verifyDuration(ctx, out, wantDuration, trimTolerance); err != nil {
			return "", err
		}
		return out, nil
	}

	if err := f.verifyDuration(ctx, out, wantDuration, trimTolerance); err != nil {
		log.Warn("trim output drifted (%v), retrying with accurate seek", err)
		if err := f.run(ctx, f.trimArgs(spec, speed, overlayPath, out, true)); err != nil {
			return "", err
		}
		if err := f.verifyDuration(ctx, out, wantDuration, trimTolerance); err != nil {
			return "", err
		}
	}
	return out, nil
}

// writeOverlay persists the overlay script next to its clip so the subtitle
// filter can reference it by absolute path. Empty scripts burn nothing.
func (f *Factory) writeOverlay(spec TrimSpec, out string) (string, error) {
	if spec.Overlay == nil || spec.Overlay.Empty() {
		return "", nil
	}
	path := file.ReplaceExt(out, ".ass")
	if err := spec.Overlay.WriteFile(path); err != nil {
		return "", fmt.Errorf("write subtitle overlay: %w", err)
	}
	return path, nil
}

func (f *Factory) trimArgs(spec TrimSpec, speed float64, overlayPath, out string, accurate bool) []string {
	sourceDuration := spec.End - spec.Start
	outputDuration := sourceDuration / speed

	args := []string{"-y"}
	var videoFilters, audioFilters []string
	if accurate {
		// The accurate path cuts in the filter graph and rebases timestamps
		// to zero, so frames reach the subtitle filter with the same clock
		// the overlay script's cues were written against.
		args = append(args, "-i", spec.Source)
		videoFilters = append(videoFilters,
			fmt.Sprintf("trim=start=%.3f:end=%.3f", spec.Start, spec.End),
			"setpts=PTS-STARTPTS")
		audioFilters = append(audioFilters,
			fmt.Sprintf("atrim=start=%.3f:end=%.3f", spec.Start, spec.End),
			"asetpts=PTS-STARTPTS")
	} else {
		args = append(args, "-ss", fmt.Sprintf("%.3f", spec.Start), "-i", spec.Source)
	}
	args = append(args, "-t", fmt.Sprintf("%.3f", outputDuration))

	videoFilters = append(videoFilters, fitFilter(spec.Layout, spec.Fit))
	if speed != 1.0 {
		videoFilters = append(videoFilters, fmt.Sprintf("setpts=PTS/%.4f", speed))
		audioFilters = append(audioFilters, fmt.Sprintf("atempo=%.4f", speed))
	}
	if overlayPath != "" {
		// Subtitles render after geometry so the script resolution matches
		// the output frame.
		videoFilters = append(videoFilters, fmt.Sprintf("ass='%s'", ffmpeg.EscapeFilterPath(overlayPath)))
	}
	args = append(args, "-vf", strings.Join(videoFilters, ","))
	if len(audioFilters) > 0 {
		args = append(args, "-af", strings.Join(audioFilters, ","))
	}

	args = append(args, VideoArgs()...)
	args = append(args, AudioArgs()...)
	args = append(args, "-movflags", "+faststart", out)
	return args
}
