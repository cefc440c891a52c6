package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxResponseRunes caps the cleaned reply length.
const MaxResponseRunes = 1000

var (
	thinkBlock = regexp.MustCompile(`<think>[\s\S]*?</think>`)
	// hiragana, katakana and CJK ideographs
	japaneseRune = regexp.MustCompile(`[\x{3040}-\x{30FF}\x{4E00}-\x{9FFF}]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// CleanResponse strips reasoning blocks, drops any preamble before the first
// Japanese character, collapses whitespace and truncates to MaxResponseRunes.
// Text without Japanese characters is kept whole.
func CleanResponse(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if loc := japaneseRune.FindStringIndex(s); loc != nil {
		s = s[loc[0]:]
	}
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))

	if utf8.RuneCountInString(s) > MaxResponseRunes {
		runes := []rune(s)
		s = string(runes[:MaxResponseRunes])
	}
	return s
}
