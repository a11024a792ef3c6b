package subtitle

import (
	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// minLangConfidence is the detector confidence below which a text is treated
// as undetermined. Short cues are noisy; a weak guess should not trigger a
// swap warning.
const minLangConfidence = 0.6

// DetectLanguage guesses the language of a text row.
func DetectLanguage(text string) language.Tag {
	if text == "" {
		return language.Und
	}
	info := whatlanggo.Detect(text)
	if info.Confidence < minLangConfidence {
		return language.Und
	}
	switch info.Lang {
	case whatlanggo.Eng:
		return language.English
	case whatlanggo.Kor:
		return language.Korean
	default:
		tag, err := language.Parse(info.Lang.Iso6391())
		if err != nil {
			return language.Und
		}
		return tag
	}
}

// SuspectSwapped reports whether a record's English and Korean rows look
// interchanged. Both rows must confidently detect as the other language;
// anything weaker stays quiet.
func SuspectSwapped(r Record) bool {
	if r.TextEN == "" || r.TextKO == "" {
		return false
	}
	return DetectLanguage(r.TextEN) == language.Korean &&
		DetectLanguage(r.TextKO) == language.English
}
