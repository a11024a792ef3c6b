// Package tts synthesizes narration audio through an external
// text-to-speech command.
package tts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/text/language"
)

// Request describes one utterance to synthesize.
type Request struct {
	Text string
	// Voice names the engine voice, e.g. "en-US-AriaNeural". Empty picks
	// the synthesizer default.
	Voice string
	// Rate is a playback rate multiplier. 1.0 is natural speed; 0 means 1.0.
	Rate float64
	// OutputPath is where the audio file is written.
	OutputPath string
}

// Synthesizer turns text into an audio file on disk.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) error
}

var defaultVoices = map[string]string{
	"en": "en-US-AriaNeural",
	"ko": "ko-KR-SunHiNeural",
}

// VoiceFor maps a language to its default engine voice.
func VoiceFor(tag language.Tag) string {
	base, _ := tag.Base()
	if voice, ok := defaultVoices[base.String()]; ok {
		return voice
	}
	return defaultVoices["en"]
}

// CommandSynthesizer shells out to an edge-tts compatible CLI.
type CommandSynthesizer struct {
	command      string
	defaultVoice string
}

// NewCommandSynthesizer resolves the TTS command on PATH.
func NewCommandSynthesizer(command, defaultVoice string) (*CommandSynthesizer, error) {
	if command == "" {
		command = "edge-tts"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("tts command %q not found: %w", command, err)
	}
	if defaultVoice == "" {
		defaultVoice = defaultVoices["en"]
	}
	return &CommandSynthesizer{command: path, defaultVoice: defaultVoice}, nil
}

// Synthesize runs the TTS command and verifies it produced a non-empty file.
func (s *CommandSynthesizer) Synthesize(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return errors.New("tts: empty text")
	}
	if req.OutputPath == "" {
		return errors.New("tts: output path required")
	}
	voice := req.Voice
	if voice == "" {
		voice = s.defaultVoice
	}

	args := []string{
		"--text", req.Text,
		"--voice", voice,
		"--rate", formatRate(req.Rate),
		"--write-media", req.OutputPath,
	}
	cmd := exec.CommandContext(ctx, s.command, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tts command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return fmt.Errorf("tts produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("tts produced empty file %s", req.OutputPath)
	}
	return nil
}

// formatRate converts a rate multiplier into the engine's signed percent
// form, e.g. 0.8 becomes "-20%".
func formatRate(rate float64) string {
	if rate <= 0 {
		rate = 1.0
	}
	percent := int(math.Round((rate - 1.0) * 100))
	return fmt.Sprintf("%+d%%", percent)
}
