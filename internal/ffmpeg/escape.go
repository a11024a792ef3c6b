package ffmpeg

import "strings"

// EscapeFilterPath escapes a file path for use inside a filtergraph argument,
// e.g. the ass= subtitle filter. Backslashes become forward slashes first so
// the same escaping works for Windows-style paths.
func EscapeFilterPath(path string) string {
	escaped := strings.ReplaceAll(path, "\\", "/")
	escaped = strings.ReplaceAll(escaped, ":", "\\:")
	escaped = strings.ReplaceAll(escaped, "[", "\\[")
	escaped = strings.ReplaceAll(escaped, "]", "\\]")
	escaped = strings.ReplaceAll(escaped, ",", "\\,")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return escaped
}

// EscapeConcatPath escapes a file path for a concat demuxer manifest line.
// The manifest quotes paths with single quotes, so each embedded quote closes
// the string, emits a backslash-escaped quote, and reopens it.
func EscapeConcatPath(path string) string {
	escaped := strings.ReplaceAll(path, "\\", "/")
	return strings.ReplaceAll(escaped, "'", `'\''`)
}

// EscapeDrawText escapes text for the drawtext filter's text= option.
func EscapeDrawText(text string) string {
	escaped := strings.ReplaceAll(text, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, ":", "\\:")
	escaped = strings.ReplaceAll(escaped, "'", "\\\\\\'")
	escaped = strings.ReplaceAll(escaped, "%", "\\%")
	return escaped
}
