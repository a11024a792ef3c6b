package subtitle

import (
	"fmt"
	"sync"
)

// VariantKind selects which rows of a record a rendered script shows.
type VariantKind string

const (
	VariantFull           VariantKind = "full"
	VariantBlank          VariantKind = "blank"
	VariantBlankKorean    VariantKind = "blank_korean"
	VariantKoreanOnly     VariantKind = "korean_only"
	VariantEnglishOnly    VariantKind = "english_only"
	VariantKoreanWithNote VariantKind = "korean_with_note"
)

// Variant is one visual rendering of a record.
type Variant struct {
	English  string
	Korean   string
	Note     string
	Keywords []string // non-nil only when the English row gets highlighting
	Kind     VariantKind
}

// Pipeline derives subtitle variants and scripts from a single record.
// Derivations are lazy and memoized; a pipeline lives for one job and is not
// shared across jobs.
type Pipeline struct {
	record Record
	layout Layout

	mu       sync.Mutex
	variants map[VariantKind]Variant
	scripts  map[scriptKey]Script
}

type scriptKey struct {
	kind     VariantKind
	duration float64
}

// NewPipeline validates the record and returns a variant pipeline for it.
func NewPipeline(record Record, layout Layout) (*Pipeline, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		record:   record,
		layout:   layout,
		variants: make(map[VariantKind]Variant),
		scripts:  make(map[scriptKey]Script),
	}, nil
}

// Record returns the pipeline's source record.
func (p *Pipeline) Record() Record {
	return p.record
}

// Variant returns the memoized variant of the given kind.
func (p *Pipeline) Variant(kind VariantKind) (Variant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.variants[kind]; ok {
		return v, nil
	}
	v, err := deriveVariant(p.record, kind)
	if err != nil {
		return Variant{}, err
	}
	p.variants[kind] = v
	return v, nil
}

// Script returns the memoized ASS script for (kind, clipDuration). The cue is
// stretched to the clip's full duration so the text persists through trailing
// silence.
func (p *Pipeline) Script(kind VariantKind, clipDuration float64) (Script, error) {
	variant, err := p.Variant(kind)
	if err != nil {
		return Script{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := scriptKey{kind: kind, duration: clipDuration}
	if s, ok := p.scripts[key]; ok {
		return s, nil
	}
	s, err := ScriptFromVariant(variant, p.layout, clipDuration)
	if err != nil {
		return Script{}, err
	}
	p.scripts[key] = s
	return s, nil
}

func deriveVariant(r Record, kind VariantKind) (Variant, error) {
	switch kind {
	case VariantFull:
		return Variant{English: r.TextEN, Korean: r.TextKO, Note: r.Note, Keywords: r.Keywords, Kind: kind}, nil
	case VariantBlank:
		return Variant{English: r.BlankEN(), Note: r.Note, Kind: kind}, nil
	case VariantBlankKorean:
		return Variant{English: r.BlankEN(), Korean: r.TextKO, Note: r.Note, Kind: kind}, nil
	case VariantKoreanOnly:
		return Variant{Korean: r.TextKO, Note: r.Note, Kind: kind}, nil
	case VariantEnglishOnly:
		return Variant{English: r.TextEN, Note: r.Note, Kind: kind}, nil
	case VariantKoreanWithNote:
		return Variant{Korean: r.TextKO, Note: r.Note, Kind: kind}, nil
	default:
		return Variant{}, fmt.Errorf("unknown subtitle variant kind %q", kind)
	}
}
