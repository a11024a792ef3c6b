package template

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/mkang/shadowclip/internal/clip"
	"github.com/mkang/shadowclip/internal/subtitle"
	"github.com/mkang/shadowclip/internal/tts"
)

// noSub marks a repetition without any subtitle overlay.
const noSub = subtitle.VariantKind("")

const (
	studyTailSilenceWide   = 0.5
	studyTailSilenceShorts = 0.3
	// reviewRate slows review narration slightly.
	reviewRate = 0.9
)

// builtinCatalog is the authoritative numeric template mapping. IDs are
// stable across releases; callers persist them in job records.
func builtinCatalog() []Definition {
	wide := subtitle.LayoutWide
	shorts := subtitle.LayoutShorts

	return []Definition{
		{ID: 1, Name: "basic_shadowing", Layout: wide, expand: shadowing(
			repeat(noSub, 2), repeat(subtitle.VariantKoreanWithNote, 2), repeat(subtitle.VariantFull, 2))},
		{ID: 2, Name: "keyword_blank", Layout: wide, expand: shadowing(
			repeat(noSub, 2), repeat(subtitle.VariantBlankKorean, 2), repeat(subtitle.VariantFull, 2))},
		{ID: 3, Name: "progressive", Layout: wide, expand: shadowing(
			repeat(noSub, 2), repeat(subtitle.VariantEnglishOnly, 2),
			repeat(subtitle.VariantKoreanOnly, 2), repeat(subtitle.VariantFull, 2))},
		{ID: 4, Name: "speed_drill", Layout: wide, expand: speedDrill},

		{ID: 11, Name: "shorts_basic_shadowing", Layout: shorts, expand: shadowing(
			repeat(noSub, 2), repeat(subtitle.VariantKoreanWithNote, 2), repeat(subtitle.VariantFull, 2))},
		{ID: 12, Name: "shorts_keyword_blank", Layout: shorts, expand: shadowing(
			repeat(noSub, 2), repeat(subtitle.VariantBlankKorean, 2), repeat(subtitle.VariantFull, 2))},
		{ID: 13, Name: "shorts_progressive", Layout: shorts, expand: shadowing(
			repeat(noSub, 2), repeat(subtitle.VariantEnglishOnly, 2),
			repeat(subtitle.VariantKoreanOnly, 2), repeat(subtitle.VariantFull, 2))},

		{ID: 31, Name: "study_preview", Layout: wide, expand: study(narrationTTS, 1.0)},
		{ID: 32, Name: "study_review", Layout: wide, expand: study(narrationTTS, reviewRate)},
		{ID: 33, Name: "shorts_study_preview", Layout: shorts, expand: study(narrationTTS, 1.0)},
		{ID: 34, Name: "shorts_study_review", Layout: shorts, expand: study(narrationTTS, reviewRate)},
		{ID: 35, Name: "study_original", Layout: wide, expand: study(narrationSource, 1.0)},
		{ID: 36, Name: "shorts_study_original", Layout: shorts, expand: study(narrationSource, 1.0)},

		{ID: 91, Name: "continuous_bookmarks", Layout: wide, expand: continuous},
	}
}

// repeat expands one variant into n consecutive repetitions.
func repeat(kind subtitle.VariantKind, n int) []subtitle.VariantKind {
	group := make([]subtitle.VariantKind, n)
	for i := range group {
		group[i] = kind
	}
	return group
}

// shadowing builds the classic repetition structure: every pair of
// consecutive trims is separated by a freeze-frame gap, so n repetitions
// yield n-1 gaps.
func shadowing(groups ...[]subtitle.VariantKind) expandFunc {
	return func(def Definition, req Request) ([]Primitive, error) {
		var kinds []subtitle.VariantKind
		for _, group := range groups {
			kinds = append(kinds, group...)
		}
		var prims []Primitive
		for i, kind := range kinds {
			if i > 0 {
				prims = append(prims, gapStep(def, req))
			}
			prims = append(prims, trimStep(def, req, kind, 1.0))
		}
		return prims, nil
	}
}

// speedDrill introduces the line with a narrated still, then plays it slowed
// before two natural-speed repetitions.
func speedDrill(def Definition, req Request) ([]Primitive, error) {
	intro := Primitive{ImageTTS: &clip.ImageTTSSpec{
		Background: clip.Background{Kind: clip.BackgroundFrame, Source: req.Source, FrameAt: req.Start},
		Overlays: []clip.TextOverlay{
			{Text: req.Record.TextKO, Role: subtitle.RoleKorean},
		},
		TTS: &clip.TTSSpec{
			Text:  req.Record.TextKO,
			Voice: tts.VoiceFor(language.Korean),
			Rate:  1.0,
		},
		TailSilence: studyTailSilenceWide,
		Layout:      def.Layout,
	}}
	return []Primitive{
		intro,
		trimStep(def, req, subtitle.VariantFull, 0.7),
		trimStep(def, req, subtitle.VariantFull, 1.0),
		trimStep(def, req, subtitle.VariantFull, 1.0),
	}, nil
}

// narrationMode selects the study clip soundtrack.
type narrationMode int

const (
	narrationTTS narrationMode = iota
	narrationSource
)

// study emits a single still clip with the record's text laid over a frame
// of the source, narrated in English.
func study(mode narrationMode, rate float64) expandFunc {
	return func(def Definition, req Request) ([]Primitive, error) {
		tail := studyTailSilenceWide
		if def.Layout == subtitle.LayoutShorts {
			tail = studyTailSilenceShorts
		}

		spec := &clip.ImageTTSSpec{
			Background: clip.Background{Kind: clip.BackgroundFrame, Source: req.Source, FrameAt: req.Start},
			Overlays: []clip.TextOverlay{
				{Text: req.Record.TextKO, Role: subtitle.RoleKorean},
				{Text: req.Record.TextEN, Role: subtitle.RoleEnglish},
			},
			TailSilence: tail,
			Layout:      def.Layout,
		}
		switch mode {
		case narrationTTS:
			spec.TTS = &clip.TTSSpec{
				Text:  req.Record.TextEN,
				Voice: tts.VoiceFor(language.English),
				Rate:  rate,
			}
		case narrationSource:
			spec.AudioExtract = &clip.AudioExtract{Source: req.Source, Start: req.Start, End: req.End}
		}
		return []Primitive{{ImageTTS: spec}}, nil
	}
}

// continuous partitions the record list into maximal unbookmarked runs, each
// emitted as one multi-cue trim, and bookmarked singletons expanded through
// the basic shadowing structure.
func continuous(def Definition, req Request) ([]Primitive, error) {
	if len(req.Records) == 0 {
		return nil, fmt.Errorf("template %d requires a record list", def.ID)
	}

	basic := shadowing(repeat(noSub, 2), repeat(subtitle.VariantKoreanWithNote, 2), repeat(subtitle.VariantFull, 2))

	var prims []Primitive
	for i := 0; i < len(req.Records); {
		r := req.Records[i]
		if r.Bookmarked {
			sub := req
			sub.Start, sub.End = r.Start, r.End
			sub.Record = r
			expanded, err := basic(def, sub)
			if err != nil {
				return nil, err
			}
			prims = append(prims, expanded...)
			i++
			continue
		}

		j := i
		for j < len(req.Records) && !req.Records[j].Bookmarked {
			j++
		}
		run := req.Records[i:j]
		prims = append(prims, Primitive{Trim: &TrimStep{
			Spec: clip.TrimSpec{
				Source: req.Source,
				Start:  run[0].Start,
				End:    run[len(run)-1].End,
				Layout: def.Layout,
				Fit:    req.Fit,
			},
			Variant: subtitle.VariantFull,
			Records: append([]subtitle.Record(nil), run...),
		}})
		i = j
	}
	return prims, nil
}
