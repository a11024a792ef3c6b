package clip

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Freeze extracts the frame at FrameAt and holds it for Duration seconds.
// The audio track is generated PCM silence re-encoded to AAC, never an empty
// stream; a freeze without a real audio track breaks concatenation.
func (f *Factory) Freeze(ctx context.Context, spec FreezeSpec) (string, error) {
	if err := checkSource(spec.Source); err != nil {
		return "", err
	}
	if spec.FrameAt < 0 || spec.Duration <= 0 {
		return "", fmt.Errorf("invalid freeze spec: frame_at=%.3f duration=%.3f", spec.FrameAt, spec.Duration)
	}

	frame, err := f.extractFrame(ctx, spec.Source, spec.FrameAt, "")
	if err != nil {
		return "", err
	}
	defer os.Remove(frame)

	silence, err := f.generateSilence(ctx, spec.Duration)
	if err != nil {
		return "", err
	}
	defer os.Remove(silence)

	out := f.next("freeze", "mp4")
	args := []string{
		"-y",
		"-loop", "1", "-i", frame,
		"-i", silence,
		"-t", fmt.Sprintf("%.3f", spec.Duration),
		"-vf", fitFilter(spec.Layout, spec.Fit),
		"-map", "0:v", "-map", "1:a",
	}
	args = append(args, VideoArgs()...)
	args = append(args, AudioArgs()...)
	args = append(args, "-movflags", "+faststart", out)

	if err := f.run(ctx, args); err != nil {
		return "", err
	}
	if err := f.verifyDuration(ctx, out, spec.Duration, freezeTolerance); err != nil {
		return "", err
	}
	return out, nil
}

// extractFrame grabs one frame as a lossless PNG. A non-empty filter is
// applied during extraction; callers that scale later pass none.
func (f *Factory) extractFrame(ctx context.Context, source string, at float64, filter string) (string, error) {
	frame := f.next("frame", "png")
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", at),
		"-i", source,
		"-frames:v", "1",
	}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args, "-q:v", "2", frame)
	if err := f.run(ctx, args); err != nil {
		return "", fmt.Errorf("extract frame at %.3fs: %w", at, err)
	}
	return frame, nil
}

// generateSilence writes duration seconds of stereo PCM silence at the
// canonical sample rate.
func (f *Factory) generateSilence(ctx context.Context, duration float64) (string, error) {
	path := f.next("silence", "wav")
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", AudioSampleRate),
		"-t", fmt.Sprintf("%.3f", duration),
		"-c:a", "pcm_s16le",
		"-ac", strconv.Itoa(AudioChannels),
		path,
	}
	if err := f.run(ctx, args); err != nil {
		return "", fmt.Errorf("generate %.2fs silence: %w", duration, err)
	}
	return path, nil
}
