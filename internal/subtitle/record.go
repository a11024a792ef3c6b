package subtitle

import (
	"fmt"
	"unicode/utf8"
)

// Record is one semantic cue: a time range with bilingual text, an optional
// single-line note, and optional keywords to blank or highlight in the
// English text.
type Record struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	TextEN     string   `json:"text_en"`
	TextKO     string   `json:"text_ko"`
	Note       string   `json:"note,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Bookmarked bool     `json:"bookmarked,omitempty"`
}

// Validate checks the structural invariants of a record.
func (r Record) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("start time %f is negative", r.Start)
	}
	if r.Start >= r.End {
		return fmt.Errorf("start time %f is not before end time %f", r.Start, r.End)
	}
	for name, text := range map[string]string{
		"text_en": r.TextEN,
		"text_ko": r.TextKO,
		"note":    r.Note,
	} {
		if !utf8.ValidString(text) {
			return fmt.Errorf("%s is not valid UTF-8", name)
		}
	}
	return nil
}

// Duration returns the cue length in seconds.
func (r Record) Duration() float64 {
	return r.End - r.Start
}

// BlankEN returns the English text with keyword matches blanked out.
// It is derived, never stored.
func (r Record) BlankEN() string {
	return BlankText(r.TextEN, r.Keywords)
}
