// Package textnorm strips page boilerplate from extracted text before chunking.
package textnorm

import (
	"fmt"
	"regexp"
	"strings"
)

// Built-in boilerplate patterns. Order matters only for determinism: e-mail
// addresses are removed before hosts so the local part does not survive.
// Patterns run on the raw page, so line anchors still see the original line breaks.
var defaultPatterns = []string{
	// e-mail
	`[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
	// URLs and hosts: scheme or www prefix, or a bare host on a generic TLD.
	// Country-code TLDs only count with a prefix; "report.de" is a filename as often as a host.
	`https?://[^\s]+`,
	`\bwww\.[a-z0-9-]+(?:\.[a-z0-9-]+)+(?:/[^\s]*)?`,
	`\b[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|org|net|gov|edu|info|biz)\b(?:/[^\s]*)?`,
	// phone numbers need a country code, a bracketed area code or a 3-3-4 grouping:
	// +1 (555) 123-4567, +44 20 7946 0958, (020) 7946 0958, 555-123-4567, 555.123.4567
	`\+\d{1,3}[\s.-]?(?:\(\d{1,4}\)|\d{1,4})(?:[\s.-]\d{2,4}){2,3}\b`,
	`\(\d{2,4}\)\s?\d{3,4}[\s.-]\d{4}\b`,
	`\b\d{3}-\d{3,4}-\d{4}\b`,
	`\b\d{3}\.\d{3}\.\d{4}\b`,
	// page footer markers: "Page 3 of 120", "page 3/120", and "- 12 -" alone on a line
	`\bpage\s+\d+\s*(?:of|/)\s*\d+\b`,
	`(?m)^[ \t]*-[ \t]*\d+[ \t]*-[ \t]*$`,
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalizer removes boilerplate and collapses whitespace. Safe for concurrent use.
type Normalizer struct {
	patterns []*regexp.Regexp
}

// Option configures a Normalizer.
type Option func(*options)

type options struct {
	phrases         []string
	patterns        []string
	disableDefaults bool
}

// WithPhrases adds literal boilerplate phrases (organization name variants, letterhead lines).
// Matching is case-insensitive.
func WithPhrases(phrases ...string) Option {
	return func(o *options) { o.phrases = append(o.phrases, phrases...) }
}

// WithPatterns adds extra regular expressions, compiled case-insensitively.
func WithPatterns(patterns ...string) Option {
	return func(o *options) { o.patterns = append(o.patterns, patterns...) }
}

// WithoutDefaults drops the built-in contact and footer patterns.
func WithoutDefaults() Option {
	return func(o *options) { o.disableDefaults = true }
}

// New compiles the boilerplate patterns.
func New(opts ...Option) (*Normalizer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var sources []string
	for _, p := range o.phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sources = append(sources, phrasePattern(p))
	}
	if !o.disableDefaults {
		sources = append(sources, defaultPatterns...)
	}
	sources = append(sources, o.patterns...)

	n := &Normalizer{patterns: make([]*regexp.Regexp, 0, len(sources))}
	for _, src := range sources {
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("compile boilerplate pattern %q: %w", src, err)
		}
		n.patterns = append(n.patterns, re)
	}
	return n, nil
}

// MustNew is New that panics on an invalid pattern.
func MustNew(opts ...Option) *Normalizer {
	n, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return n
}

// Normalize removes every boilerplate match, collapses whitespace runs to a single space and trims.
// Each pattern runs over the output of the previous one.
func (n *Normalizer) Normalize(raw string) string {
	text := raw
	for _, re := range n.patterns {
		text = re.ReplaceAllString(text, " ")
	}
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// phrasePattern matches a literal phrase with any whitespace between its words.
func phrasePattern(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	src := strings.Join(words, `\s+`)
	if isWordByte(phrase[0]) {
		src = `\b` + src
	}
	if isWordByte(phrase[len(phrase)-1]) {
		src += `\b`
	}
	return src
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
