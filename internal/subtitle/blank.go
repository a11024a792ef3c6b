package subtitle

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// BlankText replaces every non-whitespace character of each keyword match in
// text with '_', preserving whitespace exactly. Matching is case-insensitive
// and prefers whole words; keywords are applied longest-first so shorter
// keywords never punch holes in longer matches. With no keywords the entire
// text is blanked character for character.
func BlankText(text string, keywords []string) string {
	if len(keywords) == 0 {
		return blankRun(text)
	}

	blanked := text
	for _, keyword := range sortByLengthDesc(keywords) {
		re, ok := keywordPattern(keyword)
		if !ok {
			continue
		}
		blanked = re.ReplaceAllStringFunc(blanked, blankRun)
	}
	return blanked
}

// blankRun turns every non-whitespace rune into '_'.
func blankRun(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// keywordPattern compiles a case-insensitive whole-word pattern for keyword.
// Unmatched keywords are silently ignored by the callers, so a keyword that
// cannot form a valid pattern just reports not-ok.
func keywordPattern(keyword string) (*regexp.Regexp, bool) {
	trimmed := strings.TrimSpace(keyword)
	if trimmed == "" {
		return nil, false
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(trimmed) + `\b`)
	if err != nil {
		return nil, false
	}
	return re, true
}

func sortByLengthDesc(keywords []string) []string {
	sorted := make([]string, len(keywords))
	copy(sorted, keywords)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return sorted
}
