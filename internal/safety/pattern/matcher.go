// Package pattern implements the local, deterministic first stage of content
// moderation: a fixed set of rules scanned against normalised text.
//
// A [Matcher] is built once from a rule list and is immutable afterwards, so
// it can be shared by any number of goroutines. Scanning never performs I/O
// and never fails.
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/MrWong99/hushgate/pkg/provider/moderation"
)

// minFuzzyLen is the shortest token that edit-distance matching applies to.
const minFuzzyLen = 6

type compiledRule struct {
	category moderation.Category
	re       *regexp.Regexp

	keyword   string
	maxEdits  int
	metaphone string
}

// Matcher scans text for rule hits. The zero value matches nothing.
type Matcher struct {
	rules       []compiledRule
	categories  []moderation.Category
	hasKeyword  bool
	hasPhonetic bool
}

// New compiles rules into a Matcher. All rules are validated; the returned
// error joins every problem found.
func New(rules []Rule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	var errs []error
	seen := make(map[moderation.Category]bool)

	for i, r := range rules {
		cr, err := compile(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		m.rules = append(m.rules, cr)
		if cr.re == nil {
			m.hasKeyword = true
		}
		if cr.metaphone != "" {
			m.hasPhonetic = true
		}
		if !seen[cr.category] {
			seen[cr.category] = true
			m.categories = append(m.categories, cr.category)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	slices.Sort(m.categories)
	return m, nil
}

// MustNew is like [New] but panics on error. Intended for built-in rule sets.
func MustNew(rules []Rule) *Matcher {
	m, err := New(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// Default returns a Matcher over [DefaultRules].
func Default() *Matcher {
	return MustNew(DefaultRules())
}

func compile(r Rule) (compiledRule, error) {
	cat := moderation.NormalizeCategory(string(r.Category))
	if cat == "" {
		return compiledRule{}, errors.New("category is required")
	}
	cr := compiledRule{category: cat}

	switch {
	case r.Pattern != "" && r.Keyword != "":
		return compiledRule{}, errors.New("pattern and keyword are mutually exclusive")
	case r.Pattern != "":
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("compile pattern: %w", err)
		}
		cr.re = re
	case r.Keyword != "":
		kw := leetReplacer.Replace(normalize(r.Keyword))
		if strings.ContainsFunc(kw, func(c rune) bool { return !isWordRune(c) }) {
			return compiledRule{}, fmt.Errorf("keyword %q must be a single word", r.Keyword)
		}
		if r.MaxEdits < 0 {
			return compiledRule{}, fmt.Errorf("max_edits must be >= 0, got %d", r.MaxEdits)
		}
		cr.keyword = kw
		cr.maxEdits = r.MaxEdits
		if r.Phonetic {
			cr.metaphone, _ = matchr.DoubleMetaphone(kw)
		}
	default:
		return compiledRule{}, errors.New("one of pattern or keyword is required")
	}
	return cr, nil
}

// Categories returns the categories covered by at least one rule, sorted.
func (m *Matcher) Categories() []moderation.Category {
	return slices.Clone(m.categories)
}

// Scan reports, for every category covered by the rule set, whether any of
// its rules matched text. Empty or non-textual input yields all false.
func (m *Matcher) Scan(text string) map[moderation.Category]bool {
	if m == nil {
		return map[moderation.Category]bool{}
	}
	hits := make(map[moderation.Category]bool, len(m.categories))
	for _, c := range m.categories {
		hits[c] = false
	}
	if len(m.rules) == 0 {
		return hits
	}

	normalized := normalize(text)
	if normalized == "" {
		return hits
	}
	var tokens []token
	if m.hasKeyword {
		tokens = tokenize(normalized, m.hasPhonetic)
	}

	for _, r := range m.rules {
		if hits[r.category] {
			continue
		}
		if r.re != nil {
			hits[r.category] = r.re.MatchString(normalized)
			continue
		}
		for _, t := range tokens {
			if r.matchToken(t) {
				hits[r.category] = true
				break
			}
		}
	}
	return hits
}

// Matched returns the categories with a hit, sorted.
func Matched(hits map[moderation.Category]bool) []moderation.Category {
	var out []moderation.Category
	for c, hit := range hits {
		if hit {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

type token struct {
	text      string
	metaphone string
}

func (r compiledRule) matchToken(t token) bool {
	if t.text == r.keyword {
		return true
	}
	if r.maxEdits > 0 {
		n := utf8.RuneCountInString(t.text)
		if n >= minFuzzyLen && abs(n-utf8.RuneCountInString(r.keyword)) <= r.maxEdits &&
			matchr.DamerauLevenshtein(t.text, r.keyword) <= r.maxEdits {
			return true
		}
	}
	return r.metaphone != "" && t.metaphone == r.metaphone
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ---- normalisation ------------------------------------------------------------

var quoteReplacer = strings.NewReplacer("‘", "'", "’", "'", "‛", "'", "`", "'")

// normalize applies NFKC, strips invisible formatting characters and case
// folds. Invalid UTF-8 is replaced by spaces.
func normalize(s string) string {
	s = strings.ToValidUTF8(s, " ")
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	s = quoteReplacer.Replace(s)
	// A Caser is stateful; one per call keeps Scan safe for concurrent use.
	return strings.TrimSpace(cases.Fold().String(s))
}

var leetReplacer = strings.NewReplacer(
	"0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "@", "a", "$", "s",
)

// tokenize splits normalised text into words with leetspeak substitutions
// undone. Metaphone codes are only computed when a rule needs them.
func tokenize(s string, phonetic bool) []token {
	words := strings.FieldsFunc(leetReplacer.Replace(s), func(c rune) bool { return !isWordRune(c) })
	out := make([]token, len(words))
	for i, w := range words {
		out[i].text = w
		if phonetic {
			out[i].metaphone, _ = matchr.DoubleMetaphone(w)
		}
	}
	return out
}

func isWordRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsNumber(c)
}
