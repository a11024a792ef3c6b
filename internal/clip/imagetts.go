package clip

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/internal/subtitle"
	"github.com/mkang/shadowclip/internal/tts"
)

// defaultStillDuration applies when a clip has neither audio nor an explicit
// duration.
const defaultStillDuration = 5.0

// ImageTTS builds a still-background video over a narration track. The
// background is an image file, a solid canvas, or a frame pulled from a
// source video; text rows are drawn with the layout's typography.
func (f *Factory) ImageTTS(ctx context.Context, spec ImageTTSSpec) (string, error) {
	background, cleanupBg, err := f.prepareBackground(ctx, spec)
	if err != nil {
		return "", err
	}
	if cleanupBg {
		defer os.Remove(background)
	}

	audio, cleanupAudio, err := f.prepareNarration(ctx, spec)
	if err != nil {
		return "", err
	}
	if cleanupAudio {
		defer os.Remove(audio)
	}

	duration := spec.Duration
	if duration <= 0 {
		if audio != "" {
			d, err := f.enc.Duration(ctx, audio)
			if err != nil {
				return "", fmt.Errorf("probe narration: %w", err)
			}
			duration = d
		} else {
			duration = defaultStillDuration
		}
	}
	total := spec.LeadSilence + duration + spec.TailSilence

	filters := []string{ScaleFilter(spec.Layout)}
	if len(spec.Overlays) > 0 {
		text, err := drawTextFilters(spec.Overlays, spec.Layout)
		if err != nil {
			return "", err
		}
		filters = append(filters, text)
	}

	out := f.next("still", "mp4")
	args := []string{"-y", "-loop", "1", "-i", background}
	if audio != "" {
		args = append(args, "-i", audio)
	} else {
		args = append(args, "-f", "lavfi",
			"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", AudioSampleRate))
	}
	args = append(args,
		"-t", fmt.Sprintf("%.3f", total),
		"-vf", strings.Join(filters, ","),
		"-map", "0:v", "-map", "1:a",
	)
	if audio != "" && (spec.LeadSilence > 0 || spec.TailSilence > 0) {
		args = append(args, "-af", silencePadFilter(spec.LeadSilence))
	}
	args = append(args, VideoArgs()...)
	args = append(args, AudioArgs()...)
	args = append(args, "-movflags", "+faststart", out)

	if err := f.run(ctx, args); err != nil {
		return "", err
	}
	if err := f.verifyDuration(ctx, out, total, trimTolerance); err != nil {
		return "", err
	}
	return out, nil
}

// silencePadFilter shifts the narration right by the lead and pads the tail
// out to the clip length, which -t then bounds.
func silencePadFilter(lead float64) string {
	if lead > 0 {
		return fmt.Sprintf("adelay=%d:all=1,apad", int(lead*1000))
	}
	return "apad"
}

// prepareBackground resolves the canvas to a still image path. The second
// return reports whether the file is factory-owned scratch.
func (f *Factory) prepareBackground(ctx context.Context, spec ImageTTSSpec) (string, bool, error) {
	width, height := spec.Layout.Resolution()

	switch spec.Background.Kind {
	case BackgroundImage:
		if err := checkSource(spec.Background.Path); err != nil {
			return "", false, err
		}
		return spec.Background.Path, false, nil

	case BackgroundSolid:
		color := spec.Background.Color
		if color == "" {
			color = "black"
		}
		canvas := f.next("canvas", "png")
		args := []string{
			"-y",
			"-f", "lavfi",
			"-i", fmt.Sprintf("color=c=%s:s=%dx%d:d=1", color, width, height),
			"-frames:v", "1",
			canvas,
		}
		if err := f.run(ctx, args); err != nil {
			return "", false, fmt.Errorf("render %s canvas: %w", color, err)
		}
		return canvas, true, nil

	case BackgroundFrame:
		if err := checkSource(spec.Background.Source); err != nil {
			return "", false, err
		}
		frame, err := f.extractFrame(ctx, spec.Background.Source, spec.Background.FrameAt, ScaleFilter(spec.Layout))
		if err != nil {
			return "", false, err
		}
		return frame, true, nil
	}
	return "", false, fmt.Errorf("unknown background kind %q", spec.Background.Kind)
}

// prepareNarration resolves the soundtrack to an audio file path, running the
// TTS engine when synthesis is requested.
func (f *Factory) prepareNarration(ctx context.Context, spec ImageTTSSpec) (string, bool, error) {
	if spec.AudioFile != "" {
		if err := checkSource(spec.AudioFile); err != nil {
			return "", false, err
		}
		return spec.AudioFile, false, nil
	}
	if spec.AudioExtract != nil {
		return f.extractAudio(ctx, *spec.AudioExtract)
	}
	if spec.TTS == nil {
		return "", false, nil
	}
	if f.synth == nil {
		return "", false, fmt.Errorf("narration requested but no TTS synthesizer configured")
	}

	path := f.next("tts", "mp3")
	err := f.synth.Synthesize(ctx, tts.Request{
		Text:       spec.TTS.Text,
		Voice:      spec.TTS.Voice,
		Rate:       spec.TTS.Rate,
		OutputPath: path,
	})
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// extractAudio copies the source segment's audio track without re-encoding;
// the final clip encode normalizes it to the canonical audio profile.
func (f *Factory) extractAudio(ctx context.Context, ex AudioExtract) (string, bool, error) {
	if err := checkSource(ex.Source); err != nil {
		return "", false, err
	}
	if ex.End <= ex.Start {
		return "", false, fmt.Errorf("invalid audio extract range [%.3f, %.3f]", ex.Start, ex.End)
	}
	path := f.next("audio", "aac")
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", ex.Start),
		"-i", ex.Source,
		"-t", fmt.Sprintf("%.3f", ex.End-ex.Start),
		"-vn",
		"-acodec", "copy",
		path,
	}
	if err := f.run(ctx, args); err != nil {
		return "", false, fmt.Errorf("extract audio: %w", err)
	}
	return path, true, nil
}

// drawColor maps a role to its drawtext colour.
func drawColor(role subtitle.Role) string {
	if role == subtitle.RoleKorean {
		return "0xFFD700"
	}
	return "white"
}

// drawTextFilters renders the overlay rows as a drawtext filter chain,
// positioned per the layout's style table.
func drawTextFilters(overlays []TextOverlay, layout subtitle.Layout) (string, error) {
	font := findFont()
	filters := make([]string, 0, len(overlays))
	for _, o := range overlays {
		style, err := subtitle.StyleFor(layout, o.Role)
		if err != nil {
			return "", err
		}
		x, y := overlayPosition(o.Role, style)
		filters = append(filters, fmt.Sprintf(
			"drawtext=text='%s':fontfile='%s':fontsize=%d:fontcolor=%s:borderw=%d:bordercolor=black:x=%s:y=%s",
			ffmpeg.EscapeDrawText(o.Text), font, style.FontSize, drawColor(o.Role), style.Outline, x, y))
	}
	return strings.Join(filters, ","), nil
}

// overlayPosition places a text row the way its subtitle style anchors it.
func overlayPosition(role subtitle.Role, style subtitle.Style) (x, y string) {
	switch role {
	case subtitle.RoleNote:
		return fmt.Sprintf("%d", style.MarginL), fmt.Sprintf("%d", style.MarginV)
	case subtitle.RoleLabel:
		return fmt.Sprintf("w-text_w-%d", style.MarginR), fmt.Sprintf("%d", style.MarginV)
	case subtitle.RoleTitle:
		return "(w-text_w)/2", "(h-text_h)/2"
	default:
		return "(w-text_w)/2", fmt.Sprintf("h-%d-text_h", style.MarginV)
	}
}
