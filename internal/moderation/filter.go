// Package moderation screens message text against a term blocklist and a
// set of spam heuristics. It backs the content-policy hook the messaging
// engine consults before a message is stored.
package moderation

import (
	"strings"
	"unicode"
)

// Result describes the outcome of screening one piece of text.
type Result struct {
	Blocked bool
	Reason  string // "blocked_keyword" | "spam_pattern"
	Term    string // the matched term or heuristic name
}

// Filter holds the blocklist split into single words and multi-word
// phrases. A Filter is immutable after construction and safe for
// concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// defaultTerms is the built-in blocklist: harassment, slurs, exploitation,
// and the romance-scam vocabulary that shows up in dating chat.
var defaultTerms = []string{
	// harassment / self-harm
	"kill yourself", "go die", "kys",
	// slurs
	"nigger", "faggot", "tranny",
	// exploitation
	"child porn", "cp trade", "jailbait",
	// hate
	"heil hitler",
	// threats
	"bomb threat", "shoot up",
	// solicitation
	"send nudes", "buy my content",
	// romance scams
	"free bitcoin", "wire transfer", "western union", "gift card code",
	"crypto investment", "guaranteed returns", "sugar daddy needed",
}

// NewFilter builds a filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms builds a filter from the given terms. Single-token
// terms match whole words (including leetspeak spellings); multi-token
// terms match as phrases on word boundaries. Empty and whitespace-only
// terms are dropped.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and reports the first violation found: blocklist
// terms first, then spam heuristics.
func (f *Filter) Check(text string) Result {
	lower := strings.ToLower(text)

	// Whole-word matches, on the plain spelling and the leet-normalized
	// spelling of each token.
	for _, tok := range tokenizePlain(lower) {
		if _, hit := f.words[tok]; hit {
			return Result{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}
	for _, tok := range tokenizeLeet(lower) {
		norm := normalizeLeet(tok)
		if _, hit := f.words[norm]; hit {
			return Result{Blocked: true, Reason: "blocked_keyword", Term: norm}
		}
	}

	// Phrase matches on word boundaries: "kill yourself" must not fire on
	// "kill yourselves".
	if len(f.phrases) > 0 {
		padded := " " + strings.Join(tokenizePlain(normalizeLeet(lower)), " ") + " "
		for _, phrase := range f.phrases {
			if strings.Contains(padded, " "+phrase+" ") {
				return Result{Blocked: true, Reason: "blocked_keyword", Term: phrase}
			}
		}
	}

	return f.checkSpamPatterns(text)
}

// Flagged adapts the filter to the messaging engine's content-policy
// predicate.
func (f *Filter) Flagged(text string) bool {
	return f.Check(text).Blocked
}

// leetRunes maps common symbol substitutions back to letters.
var leetRunes = map[rune]rune{
	'@': 'a',
	'0': 'o',
	'1': 'i',
	'!': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'$': 's',
	'7': 't',
}

// normalizeLeet rewrites leetspeak substitutions to their plain letters.
func normalizeLeet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if plain, ok := leetRunes[r]; ok {
			b.WriteRune(plain)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain splits on every non-alphanumeric rune, so punctuation
// never hides a term.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace only, keeping symbol substitutions
// inside tokens so "b@dw0rd" survives as one token.
func tokenizeLeet(s string) []string {
	return strings.Fields(s)
}
