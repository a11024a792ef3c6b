package subtitle

import "fmt"

// Layout selects the output geometry: horizontal 1920x1080 or vertical
// 1080x1920 shorts.
type Layout string

const (
	LayoutWide   Layout = "wide"
	LayoutShorts Layout = "shorts"
)

// Resolution returns the logical width and height of the layout.
func (l Layout) Resolution() (int, int) {
	if l == LayoutShorts {
		return 1080, 1920
	}
	return 1920, 1080
}

// Role names a styled row of subtitle text.
type Role string

const (
	RoleEnglish Role = "english"
	RoleKorean  Role = "korean"
	RoleNote    Role = "note"
	RoleLabel   Role = "label"
	RoleTitle   Role = "title"
)

// ASS colour codes (BGR order).
const (
	colorWhite     = "&HFFFFFF&"
	colorBlack     = "&H000000&"
	colorGold      = "&H00D7FF&"
	colorSecondary = "&H000000FF"
	colorBack      = "&H00000000"
)

// Style is one entry of the typographic contract.
type Style struct {
	FontName  string
	FontSize  int
	Bold      bool
	Primary   string
	Outline   int
	Alignment int // ASS numpad alignment
	MarginL   int
	MarginR   int
	MarginV   int
}

// styleName is the capitalized style-table name for a role.
func (r Role) styleName() string {
	switch r {
	case RoleEnglish:
		return "English"
	case RoleKorean:
		return "Korean"
	case RoleNote:
		return "Note"
	case RoleLabel:
		return "Label"
	case RoleTitle:
		return "Title"
	}
	return string(r)
}

// wideStyles is the 1920x1080 profile.
var wideStyles = map[Role]Style{
	RoleEnglish: {FontName: "Noto Sans CJK KR", FontSize: 130, Bold: true, Primary: colorWhite, Outline: 3, Alignment: 2, MarginV: 270},
	RoleKorean:  {FontName: "Noto Sans CJK KR", FontSize: 110, Bold: true, Primary: colorGold, Outline: 3, Alignment: 2, MarginV: 140},
	RoleNote:    {FontName: "Noto Sans CJK KR", FontSize: 70, Bold: true, Primary: colorWhite, Outline: 3, Alignment: 7, MarginL: 80, MarginR: 80, MarginV: 80},
	RoleLabel:   {FontName: "Noto Sans CJK KR", FontSize: 110, Bold: true, Primary: colorWhite, Outline: 3, Alignment: 9, MarginL: 80, MarginR: 80, MarginV: 80},
	RoleTitle:   {FontName: "TmonMonsori", FontSize: 80, Bold: false, Primary: colorWhite, Outline: 3, Alignment: 5},
}

// shortsStyles overrides the wide profile for 1080x1920. Margins keep text
// clear of the mobile player chrome at top and bottom.
var shortsStyles = map[Role]Style{
	RoleEnglish: {FontName: "Noto Sans CJK KR", FontSize: 60, Bold: true, Primary: colorWhite, Outline: 3, Alignment: 2, MarginV: 450},
	RoleKorean:  {FontName: "Noto Sans CJK KR", FontSize: 50, Bold: true, Primary: colorGold, Outline: 3, Alignment: 2, MarginV: 300},
	RoleNote:    {FontName: "Noto Sans CJK KR", FontSize: 40, Bold: true, Primary: colorWhite, Outline: 3, Alignment: 7, MarginL: 80, MarginR: 80, MarginV: 120},
	RoleLabel:   {FontName: "Noto Sans CJK KR", FontSize: 70, Bold: true, Primary: colorWhite, Outline: 3, Alignment: 9, MarginL: 80, MarginR: 80, MarginV: 120},
	RoleTitle:   {FontName: "TmonMonsori", FontSize: 120, Bold: false, Primary: colorWhite, Outline: 3, Alignment: 5},
}

// StyleFor returns the style for a role under the given layout.
func StyleFor(layout Layout, role Role) (Style, error) {
	table := wideStyles
	if layout == LayoutShorts {
		table = shortsStyles
	}
	style, ok := table[role]
	if !ok {
		return Style{}, fmt.Errorf("unknown subtitle style role %q", role)
	}
	return style, nil
}

// styleLine renders one entry of the [V4+ Styles] table.
func styleLine(role Role, s Style) string {
	bold := 0
	if s.Bold {
		bold = 1
	}
	return fmt.Sprintf("Style: %s,%s,%d,%s,%s,%s,%s,%d,0,0,0,100,100,0,0,1,%d,0,%d,%d,%d,%d,1",
		role.styleName(), s.FontName, s.FontSize, s.Primary, colorSecondary,
		colorBlack, colorBack, bold, s.Outline, s.Alignment,
		s.MarginL, s.MarginR, s.MarginV)
}
