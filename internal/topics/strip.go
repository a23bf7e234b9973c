package topics

import "strings"

// StripWakeWords removes leading wake-word phrases from text. phrases
// is a comma-separated list, matched case-insensitively; each match may
// be followed by whitespace and punctuation, which is removed with it.
// Matching repeats until no phrase leads the text, so the operation is
// idempotent. A phrase only matches at a word boundary: "jarvis" does
// not strip the front of "jarvisville".
func StripWakeWords(text, phrases string) string {
	if phrases == "" {
		return text
	}

	var list []string
	for _, p := range strings.Split(phrases, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			list = append(list, p)
		}
	}
	if len(list) == 0 {
		return text
	}

	for {
		stripped := false
		trimmed := strings.TrimLeft(text, " \t")
		for _, phrase := range list {
			rest, ok := trimPhrase(trimmed, phrase)
			if ok {
				text = rest
				stripped = true
				break
			}
		}
		if !stripped {
			return strings.TrimLeft(text, " \t")
		}
	}
}

func trimPhrase(text, phrase string) (string, bool) {
	if len(text) < len(phrase) {
		return text, false
	}
	if !strings.EqualFold(text[:len(phrase)], phrase) {
		return text, false
	}
	rest := text[len(phrase):]
	if rest != "" && !isBoundary(rest[0]) {
		return text, false
	}
	return strings.TrimLeft(rest, " \t,.!?:;-"), true
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', ',', '.', '!', '?', ':', ';', '-':
		return true
	}
	return false
}
