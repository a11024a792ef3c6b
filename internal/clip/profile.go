package clip

import (
	"fmt"
	"strconv"

	"github.com/mkang/shadowclip/internal/subtitle"
)

// Canonical encode profile. Every primitive and every concatenated output is
// re-encoded to exactly this configuration; concatenation correctness depends
// on it, silent freeze-frames included.
const (
	VideoCodec     = "libx264"
	VideoPreset    = "medium"
	VideoCRF       = "16"
	VideoProfile   = "high"
	VideoLevel     = "4.1"
	PixelFormat    = "yuv420p"
	FrameRate      = 30
	KeyframeFrames = 60
	VideoTune      = "film"

	AudioCodec      = "aac"
	AudioSampleRate = 48000
	AudioChannels   = 2
	AudioBitrate    = "192k"
)

// VideoArgs returns the canonical video encode arguments.
func VideoArgs() []string {
	return []string{
		"-c:v", VideoCodec,
		"-preset", VideoPreset,
		"-crf", VideoCRF,
		"-profile:v", VideoProfile,
		"-level", VideoLevel,
		"-pix_fmt", PixelFormat,
		"-tune", VideoTune,
		"-r", strconv.Itoa(FrameRate),
		"-g", strconv.Itoa(KeyframeFrames),
	}
}

// AudioArgs returns the canonical audio encode arguments.
func AudioArgs() []string {
	return []string{
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
		"-ar", strconv.Itoa(AudioSampleRate),
		"-ac", strconv.Itoa(AudioChannels),
	}
}

// ScaleFilter returns the scale+pad filter that letterboxes any input into
// the layout's canonical resolution.
func ScaleFilter(layout subtitle.Layout) string {
	w, h := layout.Resolution()
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
		w, h, w, h)
}

// CropSquareFilter center-crops the source square and letterboxes it into
// the shorts frame.
func CropSquareFilter(layout subtitle.Layout) string {
	w, h := layout.Resolution()
	return fmt.Sprintf("crop='min(iw,ih)':'min(iw,ih)',scale=%d:%d,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
		w, w, w, h)
}
