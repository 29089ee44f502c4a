package scanner

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Advisory is a non-blocking note about submitted text.
type Advisory struct {
	Category Category
	Rule     string
	Message  string
}

// Scanner annotates text that looks like an injection attempt. It never
// changes or rejects the text; parameterized persistence is the defense.
type Scanner struct {
	rules     []Rule
	threshold int
}

// NewScanner uses the default rules and flags text with more than five
// suspicious punctuation characters.
func NewScanner() *Scanner {
	return NewScannerWithRules(DefaultRules(), 5)
}

func NewScannerWithRules(rules []Rule, punctuationThreshold int) *Scanner {
	return &Scanner{rules: rules, threshold: punctuationThreshold}
}

// Scan returns the advisory of the first matching rule, or a generic one
// when the text is heavy on punctuation.
func (s *Scanner) Scan(text string) (Advisory, bool) {
	if text == "" {
		return Advisory{}, false
	}
	folded := fold(text)

	for _, r := range s.rules {
		if r.Pattern.MatchString(folded) {
			return Advisory{Category: r.Category, Rule: r.Name, Message: r.Message}, true
		}
	}

	count := 0
	for _, c := range folded {
		if strings.ContainsRune(suspiciousPunctuation, c) {
			count++
		}
	}
	if count > s.threshold {
		return Advisory{Category: CategoryGeneric, Rule: "punctuation", Message: genericMessage}, true
	}
	return Advisory{}, false
}

// fold maps compatibility forms (full-width letters, ligatures) to their
// plain equivalents and lower-cases the result.
func fold(text string) string {
	return strings.ToLower(norm.NFKC.String(text))
}
