package playback

import (
	"strings"
	"unicode"
)

// maxSentenceRunes bounds one synthesis request.
const maxSentenceRunes = 200

// sentence enders for Japanese, Chinese and English text
var sentenceEnders = map[rune]bool{
	'。': true, '！': true, '？': true, '．': true, '…': true,
	'.': true, '!': true, '?': true,
	'\n': true,
}

// soft breaks used only when a sentence exceeds the limit
var softBreaks = map[rune]bool{
	'、': true, '，': true, ',': true, '：': true, ':': true, ' ': true,
}

// SplitSentences cuts text at sentence enders so synthesis can start on the
// first sentence and stop between sentences. Sentences longer than max runes
// are broken at the last soft break, or hard at max. max <= 0 selects 200.
func SplitSentences(text string, max int) []string {
	if max <= 0 {
		max = maxSentenceRunes
	}

	var out []string
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	runes := []rune(text)
	var cur []rune
	soft := -1
	for i, r := range runes {
		cur = append(cur, r)
		if softBreaks[r] {
			soft = len(cur)
		}
		switch {
		case r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]):
			// decimal point
		case sentenceEnders[r]:
			emit(string(cur))
			cur, soft = cur[:0], -1
		case len(cur) >= max:
			cut := len(cur)
			if soft > 0 {
				cut = soft
			}
			emit(string(cur[:cut]))
			cur = append([]rune(nil), cur[cut:]...)
			soft = -1
		}
	}
	emit(string(cur))
	return out
}
