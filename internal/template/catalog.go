package template

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/text/language"

	"github.com/mkang/shadowclip/internal/clip"
	"github.com/mkang/shadowclip/internal/subtitle"
	"github.com/mkang/shadowclip/internal/tts"
)

// catalogFile is the on-disk user catalog. Entries override built-in IDs or
// add new ones.
type catalogFile struct {
	Templates []templateDef `json:"templates"`
}

type templateDef struct {
	ID         int            `json:"id"`
	Name       string         `json:"name"`
	Layout     string         `json:"layout"`
	Primitives []primitiveDef `json:"primitives"`
}

type primitiveDef struct {
	// Kind is one of "trim", "gap", "still".
	Kind    string  `json:"kind"`
	Variant string  `json:"variant,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
	Repeat  int     `json:"repeat,omitempty"`
	// Narration applies to stills: "korean_tts", "english_tts",
	// "source_audio" or "none".
	Narration   string  `json:"narration,omitempty"`
	Rate        float64 `json:"rate,omitempty"`
	TailSilence float64 `json:"tail_silence,omitempty"`
}

var variantNames = map[string]subtitle.VariantKind{
	"":                 noSub,
	"none":             noSub,
	"full":             subtitle.VariantFull,
	"blank":            subtitle.VariantBlank,
	"blank_korean":     subtitle.VariantBlankKorean,
	"korean_only":      subtitle.VariantKoreanOnly,
	"english_only":     subtitle.VariantEnglishOnly,
	"korean_with_note": subtitle.VariantKoreanWithNote,
}

// LoadCatalog merges a user catalog file into the engine. Load errors leave
// the engine unchanged.
func (e *Engine) LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template catalog: %w", err)
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse template catalog: %w", err)
	}

	defs := make([]Definition, 0, len(file.Templates))
	for _, td := range file.Templates {
		def, err := compileTemplate(td)
		if err != nil {
			return fmt.Errorf("template %d: %w", td.ID, err)
		}
		defs = append(defs, def)
	}
	for _, def := range defs {
		e.defs[def.ID] = def
	}
	return nil
}

func compileTemplate(td templateDef) (Definition, error) {
	if td.ID <= 0 {
		return Definition{}, fmt.Errorf("invalid id")
	}
	var layout subtitle.Layout
	switch td.Layout {
	case "wide", "":
		layout = subtitle.LayoutWide
	case "shorts":
		layout = subtitle.LayoutShorts
	default:
		return Definition{}, fmt.Errorf("unknown layout %q", td.Layout)
	}
	if len(td.Primitives) == 0 {
		return Definition{}, fmt.Errorf("no primitives")
	}

	steps := make([]compiledStep, 0, len(td.Primitives))
	for i, pd := range td.Primitives {
		step, err := compileStep(pd)
		if err != nil {
			return Definition{}, fmt.Errorf("primitive %d: %w", i, err)
		}
		steps = append(steps, step)
	}

	name := td.Name
	if name == "" {
		name = fmt.Sprintf("custom_%d", td.ID)
	}
	return Definition{
		ID:     td.ID,
		Name:   name,
		Layout: layout,
		expand: func(def Definition, req Request) ([]Primitive, error) {
			var prims []Primitive
			for _, step := range steps {
				for n := 0; n < step.repeat; n++ {
					prims = append(prims, step.build(def, req))
				}
			}
			return prims, nil
		},
	}, nil
}

type compiledStep struct {
	repeat int
	build  func(def Definition, req Request) Primitive
}

func compileStep(pd primitiveDef) (compiledStep, error) {
	repeat := pd.Repeat
	if repeat <= 0 {
		repeat = 1
	}

	switch pd.Kind {
	case "trim":
		variant, ok := variantNames[pd.Variant]
		if !ok {
			return compiledStep{}, fmt.Errorf("unknown variant %q", pd.Variant)
		}
		speed := pd.Speed
		if speed <= 0 {
			speed = 1.0
		}
		return compiledStep{repeat: repeat, build: func(def Definition, req Request) Primitive {
			return trimStep(def, req, variant, speed)
		}}, nil

	case "gap":
		return compiledStep{repeat: repeat, build: gapStep}, nil

	case "still":
		rate := pd.Rate
		if rate <= 0 {
			rate = 1.0
		}
		narration := pd.Narration
		switch narration {
		case "", "none", "korean_tts", "english_tts", "source_audio":
		default:
			return compiledStep{}, fmt.Errorf("unknown narration %q", narration)
		}
		tail := pd.TailSilence
		return compiledStep{repeat: repeat, build: func(def Definition, req Request) Primitive {
			spec := &clip.ImageTTSSpec{
				Background: clip.Background{Kind: clip.BackgroundFrame, Source: req.Source, FrameAt: req.Start},
				Overlays: []clip.TextOverlay{
					{Text: req.Record.TextKO, Role: subtitle.RoleKorean},
					{Text: req.Record.TextEN, Role: subtitle.RoleEnglish},
				},
				TailSilence: tail,
				Layout:      def.Layout,
			}
			switch narration {
			case "korean_tts":
				spec.TTS = &clip.TTSSpec{Text: req.Record.TextKO, Voice: tts.VoiceFor(language.Korean), Rate: rate}
			case "english_tts":
				spec.TTS = &clip.TTSSpec{Text: req.Record.TextEN, Voice: tts.VoiceFor(language.English), Rate: rate}
			case "source_audio":
				spec.AudioExtract = &clip.AudioExtract{Source: req.Source, Start: req.Start, End: req.End}
			}
			return Primitive{ImageTTS: spec}
		}}, nil
	}
	return compiledStep{}, fmt.Errorf("unknown primitive kind %q", pd.Kind)
}
