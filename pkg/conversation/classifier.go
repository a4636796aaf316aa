package conversation

import (
	"strings"
	"unicode"
)

var affirmativeWords = map[string]bool{
	"yes":        true,
	"y":          true,
	"yeah":       true,
	"yep":        true,
	"yup":        true,
	"ya":         true,
	"sure":       true,
	"ok":         true,
	"okay":       true,
	"please":     true,
	"escalate":   true,
	"confirm":    true,
	"confirmed":  true,
	"absolutely": true,
	"definitely": true,
}

var affirmativePhrases = []string{
	"go ahead",
	"do it",
	"yes please",
	"please do",
	"sounds good",
}

// maxTrailingWords bounds what may follow an affirmative before the message
// reads as a new request instead of a reply to the offer.
const maxTrailingWords = 3

var questionWords = map[string]bool{
	"what":  true,
	"where": true,
	"when":  true,
	"who":   true,
	"why":   true,
	"how":   true,
	"which": true,
}

// IsConfirmation reports whether message affirms a pending escalation offer.
//
// It is a keyword heuristic, not intent detection: the message is trimmed,
// lowercased and split into words, then accepted when it starts with an
// affirmative phrase or word followed by at most maxTrailingWords words.
// Short trailers such as "yes, but quickly" therefore count as a
// confirmation. A question mark or question word anywhere makes the message
// a new question.
func IsConfirmation(message string) bool {
	if strings.Contains(message, "?") {
		return false
	}

	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if questionWords[w] {
			return false
		}
	}

	for _, phrase := range affirmativePhrases {
		p := strings.Fields(phrase)
		if hasPrefix(words, p) {
			return len(words)-len(p) <= maxTrailingWords
		}
	}
	return affirmativeWords[words[0]] && len(words)-1 <= maxTrailingWords
}

func hasPrefix(words, prefix []string) bool {
	if len(words) < len(prefix) {
		return false
	}
	for i, w := range prefix {
		if words[i] != w {
			return false
		}
	}
	return true
}
