package subtitle

import (
	"regexp"
	"sort"
	"strings"
)

// Inline ASS colour override tags. Colours are BGR.
const (
	tagGold  = `{\c&H00D7FF&}`
	tagWhite = `{\c&HFFFFFF&}`
)

var colorTagPattern = regexp.MustCompile(`\{\\c&H[0-9A-Fa-f]{6}&\}`)

// HighlightKeywords wraps each keyword match in text with a gold colour tag,
// resetting to white after the match. Matching mirrors BlankText: case
// insensitive, whole word, longest keyword first. Matches are located on the
// original text before any tag is inserted, so tags never match keywords and
// stripping the tags yields the input exactly.
func HighlightKeywords(text string, keywords []string) string {
	if len(keywords) == 0 {
		return text
	}

	type span struct{ start, end int }
	var claimed []span

	overlaps := func(s span) bool {
		for _, c := range claimed {
			if s.start < c.end && c.start < s.end {
				return true
			}
		}
		return false
	}

	for _, keyword := range sortByLengthDesc(keywords) {
		re, ok := keywordPattern(keyword)
		if !ok {
			continue
		}
		for _, idx := range re.FindAllStringIndex(text, -1) {
			s := span{start: idx[0], end: idx[1]}
			if !overlaps(s) {
				claimed = append(claimed, s)
			}
		}
	}
	if len(claimed) == 0 {
		return text
	}

	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })

	var b strings.Builder
	prev := 0
	for _, s := range claimed {
		b.WriteString(text[prev:s.start])
		b.WriteString(tagGold)
		b.WriteString(text[s.start:s.end])
		b.WriteString(tagWhite)
		prev = s.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// StripColorTags removes the inline colour overrides added by
// HighlightKeywords.
func StripColorTags(text string) string {
	return colorTagPattern.ReplaceAllString(text, "")
}
