// Package template expands numbered clip templates into ordered primitive
// specs. Templates are descriptors over one subtitle record and one source
// segment; the engine never reads video data.
package template

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mkang/shadowclip/internal/clip"
	"github.com/mkang/shadowclip/internal/subtitle"
)

var (
	ErrUnknownTemplate    = errors.New("unknown template")
	ErrSegmentOutOfBounds = errors.New("segment out of bounds")
)

const (
	// gapDuration is the freeze-frame pause between consecutive shadowing
	// repetitions.
	gapDuration = 1.5
	// gapFrameOffset backs the gap frame off the segment end so the grab
	// never lands past the last frame.
	gapFrameOffset = 0.1
)

// Request parameterizes one template expansion.
type Request struct {
	Source string
	Start  float64
	End    float64
	// SourceDuration bounds the segment when known; 0 skips the check.
	SourceDuration float64
	Record         subtitle.Record
	// Records feeds continuous templates; ignored by the rest.
	Records []subtitle.Record
	// Fit selects the shorts framing mode.
	Fit clip.FitMode
}

// TrimStep is a trim primitive before its subtitle overlay is resolved. The
// coordinator renders the overlay from Variant (or from Records for
// continuous runs) and fills Spec.Overlay.
type TrimStep struct {
	Spec clip.TrimSpec
	// Variant selects the subtitle variant; empty means no overlay.
	Variant subtitle.VariantKind
	// Record backs the variant rendering.
	Record subtitle.Record
	// Records is set for continuous runs spanning several cues.
	Records []subtitle.Record
}

// Primitive is one expanded step; exactly one field is set.
type Primitive struct {
	Trim     *TrimStep
	Freeze   *clip.FreezeSpec
	ImageTTS *clip.ImageTTSSpec
}

// Kind names the primitive for logging and clip retention directories.
func (p Primitive) Kind() string {
	switch {
	case p.Trim != nil:
		return "trim"
	case p.Freeze != nil:
		return "freeze"
	case p.ImageTTS != nil:
		return "still"
	}
	return "empty"
}

type expandFunc func(def Definition, req Request) ([]Primitive, error)

// Definition is one catalog entry.
type Definition struct {
	ID     int
	Name   string
	Layout subtitle.Layout
	expand expandFunc
}

// Engine resolves template IDs and expands them.
type Engine struct {
	defs map[int]Definition
}

// NewEngine returns an engine preloaded with the built-in catalog.
func NewEngine() *Engine {
	e := &Engine{defs: make(map[int]Definition)}
	for _, def := range builtinCatalog() {
		e.defs[def.ID] = def
	}
	return e
}

// IDs returns the registered template IDs in ascending order.
func (e *Engine) IDs() []int {
	ids := make([]int, 0, len(e.defs))
	for id := range e.defs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Lookup returns a template definition by ID.
func (e *Engine) Lookup(id int) (Definition, error) {
	def, ok := e.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %d", ErrUnknownTemplate, id)
	}
	return def, nil
}

// Expand validates the request and emits the template's ordered primitives.
func (e *Engine) Expand(id int, req Request) ([]Primitive, error) {
	def, err := e.Lookup(id)
	if err != nil {
		return nil, err
	}
	if req.Start < 0 || req.End <= req.Start {
		return nil, fmt.Errorf("%w: [%.3f, %.3f]", ErrSegmentOutOfBounds, req.Start, req.End)
	}
	if req.SourceDuration > 0 && req.End > req.SourceDuration+gapFrameOffset {
		return nil, fmt.Errorf("%w: segment ends at %.3fs, source is %.3fs",
			ErrSegmentOutOfBounds, req.End, req.SourceDuration)
	}
	return def.expand(def, req)
}

// trimStep builds one shadowing trim over the request segment.
func trimStep(def Definition, req Request, variant subtitle.VariantKind, speed float64) Primitive {
	return Primitive{Trim: &TrimStep{
		Spec: clip.TrimSpec{
			Source: req.Source,
			Start:  req.Start,
			End:    req.End,
			Layout: def.Layout,
			Speed:  speed,
			Fit:    req.Fit,
		},
		Variant: variant,
		Record:  req.Record,
	}}
}

// gapStep is the freeze-frame pause between consecutive repetitions. The gap
// inherits the request's fit mode so its framing matches the trims around it.
func gapStep(def Definition, req Request) Primitive {
	frameAt := req.End - gapFrameOffset
	if frameAt < req.Start {
		frameAt = req.Start
	}
	return Primitive{Freeze: &clip.FreezeSpec{
		Source:   req.Source,
		FrameAt:  frameAt,
		Duration: gapDuration,
		Layout:   def.Layout,
		Fit:      req.Fit,
	}}
}
