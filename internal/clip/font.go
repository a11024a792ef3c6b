package clip

import "os"

// Candidate font files for drawn text, checked in order. The CJK faces come
// first because overlays mix Korean and English in the same row.
var fontCandidates = []string{
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Bold.ttc",
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/noto/NotoSansCJK-Bold.ttc",
	"/usr/share/fonts/truetype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/nanum/NanumGothic.ttf",
}

// findFont returns the first installed candidate, falling back to a family
// name that fontconfig can resolve.
func findFont() string {
	for _, path := range fontCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "NanumGothic"
}
