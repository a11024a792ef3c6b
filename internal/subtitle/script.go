package subtitle

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// Script is a fully rendered ASS subtitle script. The script is burned into
// video during encoding; nothing downstream ever ships the file itself.
type Script struct {
	content string
}

// Content returns the script text.
func (s Script) Content() string {
	return s.content
}

// Empty reports whether the script carries no dialogue events.
func (s Script) Empty() bool {
	return !strings.Contains(s.content, "Dialogue:")
}

// WriteFile writes the script to path.
func (s Script) WriteFile(path string) error {
	return os.WriteFile(path, []byte(s.content), 0644)
}

// event is one dialogue row.
type event struct {
	layer      int
	start, end float64
	role       Role
	text       string
}

// ScriptFromVariant renders one variant as a script with a single cue
// spanning the whole clip. Korean sits on layer 0, English above it on
// layer 1, the note on layer 2.
func ScriptFromVariant(v Variant, layout Layout, clipDuration float64) (Script, error) {
	events, err := variantEvents(v, 0, clipDuration)
	if err != nil {
		return Script{}, err
	}
	return assemble(layout, events)
}

// ScriptFromRecords renders a run of records as one continuous bilingual
// script. Cue times are shifted by offset (the trim start); the last cue is
// stretched to clipDuration so the final text persists to the end.
func ScriptFromRecords(records []Record, layout Layout, offset, clipDuration float64) (Script, error) {
	var events []event
	for i, r := range records {
		v, err := deriveVariant(r, VariantFull)
		if err != nil {
			return Script{}, err
		}
		start := r.Start - offset
		if start < 0 {
			start = 0
		}
		end := r.End - offset
		if i == len(records)-1 && clipDuration > 0 {
			end = clipDuration
		}
		if end <= 0 {
			continue
		}
		cue, err := variantEvents(v, start, end)
		if err != nil {
			return Script{}, err
		}
		events = append(events, cue...)
	}
	return assemble(layout, events)
}

// TitleScript renders one or two centred title rows covering [0, duration].
func TitleScript(title1, title2 string, layout Layout, duration float64) (Script, error) {
	rows := make([]string, 0, 2)
	if title1 != "" {
		rows = append(rows, escapeEventText(title1))
	}
	if title2 != "" {
		rows = append(rows, escapeEventText(title2))
	}
	var events []event
	if len(rows) > 0 {
		// Multiple rows stack via forced line breaks.
		events = append(events, event{
			layer: 0, start: 0, end: duration, role: RoleTitle,
			text: strings.Join(rows, `\N`),
		})
	}
	return assemble(layout, events)
}

func variantEvents(v Variant, start, end float64) ([]event, error) {
	var events []event
	if v.Korean != "" {
		events = append(events, event{layer: 0, start: start, end: end, role: RoleKorean, text: escapeEventText(v.Korean)})
	}
	if v.English != "" {
		text := escapeEventText(v.English)
		if len(v.Keywords) > 0 {
			text = HighlightKeywords(text, v.Keywords)
		}
		events = append(events, event{layer: 1, start: start, end: end, role: RoleEnglish, text: text})
	}
	if v.Note != "" {
		events = append(events, event{layer: 2, start: start, end: end, role: RoleNote, text: escapeEventText(v.Note)})
	}
	return events, nil
}

func assemble(layout Layout, events []event) (Script, error) {
	width, height := layout.Resolution()

	var b strings.Builder
	fmt.Fprintf(&b, `[Script Info]
Title: Shadowing Subtitles
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
Collisions: Normal
PlayDepth: 0
Timer: 100.0000
WrapStyle: 0
ScaledBorderAndShadow: yes

`, width, height)

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, ")
	b.WriteString("Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, ")
	b.WriteString("Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	for _, role := range []Role{RoleEnglish, RoleKorean, RoleNote, RoleLabel, RoleTitle} {
		style, err := StyleFor(layout, role)
		if err != nil {
			return Script{}, err
		}
		b.WriteString(styleLine(role, style))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, e := range events {
		if !utf8.ValidString(e.text) {
			return Script{}, fmt.Errorf("event text is not valid UTF-8")
		}
		fmt.Fprintf(&b, "Dialogue: %d,%s,%s,%s,,0,0,0,,%s\n",
			e.layer, formatTime(e.start), formatTime(e.end), e.role.styleName(), e.text)
	}

	return Script{content: b.String()}, nil
}

// formatTime renders seconds as H:MM:SS.cc with truncated centiseconds.
func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	// The epsilon keeps 3.0 from landing on 2.99 through float rounding.
	total := int64(seconds*100 + 1e-6)
	cs := total % 100
	s := (total / 100) % 60
	m := (total / 6000) % 60
	h := total / 360000
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// escapeEventText escapes characters that are syntactically significant in
// ASS event text. Line breaks become forced ASS breaks.
func escapeEventText(text string) string {
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "{", `\{`)
	escaped = strings.ReplaceAll(escaped, "}", `\}`)
	escaped = strings.ReplaceAll(escaped, ":", `\:`)
	escaped = strings.ReplaceAll(escaped, "\n", `\N`)
	return escaped
}
