package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Patterns are compiled once at init and shared; regexp is safe for
// concurrent use.
var (
	// linkPattern catches http/https links, www. links, and bare domains.
	// Bare domains require a trailing "/" so version strings ("v2.0") and
	// decimals ("3.14") pass.
	linkPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern catches common phone formats (+1-555-123-4567,
	// (555) 123-4567, 555.123.4567), anchored to whitespace so digit runs
	// inside words and short numbers stay clean.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

const (
	charRunThreshold = 5 // consecutive identical runes
	wordRunThreshold = 3 // consecutive identical words
)

// heuristic names one spam signal. The first hit wins, so cheap regex
// checks come before the scans.
type heuristic struct {
	name string
	hit  func(string) bool
}

var heuristics = []heuristic{
	{name: "url", hit: linkPattern.MatchString},
	{name: "phone", hit: phonePattern.MatchString},
	{name: "char_flood", hit: hasCharRun},
	{name: "word_flood", hit: hasWordRun},
}

// checkSpamPatterns applies the heuristics in order and reports the first
// hit as a spam_pattern violation.
func (f *Filter) checkSpamPatterns(text string) Result {
	for _, h := range heuristics {
		if h.hit(text) {
			return Result{Blocked: true, Reason: "spam_pattern", Term: h.name}
		}
	}
	return Result{}
}

// hasCharRun reports a run of charRunThreshold or more identical runes.
// RE2 has no backreferences, so this is a linear scan.
func hasCharRun(text string) bool {
	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= charRunThreshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordRun reports wordRunThreshold or more consecutive repeats of the
// same word, case-insensitively.
func hasWordRun(text string) bool {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	count := 1
	prev := ""
	for _, w := range words {
		w = strings.ToLower(w)
		if w == prev {
			count++
			if count >= wordRunThreshold {
				return true
			}
		} else {
			count = 1
			prev = w
		}
	}
	return false
}
