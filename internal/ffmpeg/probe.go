package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mkang/shadowclip/pkg/log"
)

// VideoStream describes the first video stream of a media file.
type VideoStream struct {
	Codec     string
	Width     int
	Height    int
	PixFmt    string
	FrameRate float64
}

// AudioStream describes the first audio stream of a media file.
type AudioStream struct {
	Codec      string
	SampleRate int
	Channels   int
}

// MediaInfo is the probed summary of a media file.
type MediaInfo struct {
	Duration float64
	Video    *VideoStream
	Audio    *AudioStream
}

// Duration probes the container duration in seconds.
func (r *Runner) Duration(ctx context.Context, path string) (float64, error) {
	out, err := r.probe(ctx, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, err
	}

	value := strings.TrimSpace(string(out))
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	return seconds, nil
}

// Inspect probes the streams and duration of a media file.
func (r *Runner) Inspect(ctx context.Context, path string) (*MediaInfo, error) {
	out, err := r.probe(ctx, []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	})
	if err != nil {
		return nil, err
	}

	var probeResult struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			PixFmt     string `json:"pix_fmt"`
			RFrameRate string `json:"r_frame_rate"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(out, &probeResult); err != nil {
		log.Error("Failed to parse ffprobe output: %v", err)
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	if probeResult.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(probeResult.Format.Duration, 64)
	}
	for _, stream := range probeResult.Streams {
		switch stream.CodecType {
		case "video":
			if info.Video != nil {
				continue
			}
			info.Video = &VideoStream{
				Codec:     stream.CodecName,
				Width:     stream.Width,
				Height:    stream.Height,
				PixFmt:    stream.PixFmt,
				FrameRate: parseFrameRate(stream.RFrameRate),
			}
		case "audio":
			if info.Audio != nil {
				continue
			}
			sampleRate, _ := strconv.Atoi(stream.SampleRate)
			info.Audio = &AudioStream{
				Codec:      stream.CodecName,
				SampleRate: sampleRate,
				Channels:   stream.Channels,
			}
		}
	}
	return info, nil
}

func (r *Runner) probe(ctx context.Context, args []string) ([]byte, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, r.ffprobePath, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %v: %w", args, err)
	}
	return out, nil
}

// parseFrameRate converts ffprobe's rational "30/1" form to a float.
func parseFrameRate(raw string) float64 {
	num, den, found := strings.Cut(raw, "/")
	if !found {
		value, _ := strconv.ParseFloat(raw, 64)
		return value
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
