// Package contactfilter redacts phone numbers, e-mail addresses and other
// contact details from message bodies before they are stored.
package contactfilter

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder replaces every detected contact span.
const Placeholder = "[CONTACT INFO BLOCKED]"

// MinPhoneDigits is the number of digits a separator-joined run needs to count as a phone number.
const MinPhoneDigits = 7

var (
	// Digit runs joined by -, ., spaces or parentheses, optionally led by + or (.
	phonePattern = regexp.MustCompile(`[+(]?\p{Nd}[\p{Nd}\-.()\s\x{00A0}]*\p{Nd}`)

	isoDatePattern = regexp.MustCompile(`^[0-9]{4}([-.])([0-9]{2})([-.])([0-9]{2})$`)
	dmyDatePattern = regexp.MustCompile(`^([0-9]{2})([-.])([0-9]{2})([-.])[0-9]{4}$`)

	emailPattern = regexp.MustCompile(`[\p{L}\p{N}._%+\-]+@[\p{L}\p{N}\-]+(?:\.[\p{L}\p{N}\-]+)*\.\p{L}{2,}`)

	// "jane at mail dot com", "jane [at] mail (dot) com"
	obfuscatedEmailPattern = regexp.MustCompile(`(?i)[\p{L}\p{N}._%+\-]+\s*(?:\(at\)|\[at\]|\{at\}|\sat\s)\s*[\p{L}\p{N}\-]+\s*(?:\(dot\)|\[dot\]|\{dot\}|\sdot\s)\s*\p{L}{2,}\b`)

	// seven or more spelled-out digits: "five five five one two three four"
	spelledDigitsPattern = regexp.MustCompile(`(?i)\b(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)(?:[\s\-,]+(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)){6,}\b`)

	// A handle introduced by a messenger name or a contact phrase. Group 1 is the handle.
	handlePattern = regexp.MustCompile(`(?i)\b(?:whats\s?app|telegram|tg|viber|signal|skype|wechat|snapchat|snap|instagram|insta|ig|kik|line|(?:call|text|sms|message|msg|dm|ping|reach|contact)\s+me)\s*(?:(?:at|on|via|is|:|-)\s*)*(@[\p{L}\p{N}_.]{3,})`)
)

// span is a half-open byte range [start, end) of the input.
type span struct {
	start, end int
}

// Rule finds contact spans in text and returns them as byte offsets.
type Rule func(text string) [][2]int

// Filter scans text with a fixed set of rules. The zero value is not usable; call New.
type Filter struct {
	placeholder string
	rules       []Rule
}

// Option configures a Filter.
type Option func(*Filter)

// WithPlaceholder overrides the replacement token.
func WithPlaceholder(p string) Option {
	return func(f *Filter) { f.placeholder = p }
}

// WithRule adds a custom detection rule.
func WithRule(r Rule) Option {
	return func(f *Filter) { f.rules = append(f.rules, r) }
}

// New returns a Filter with the built-in rules plus any extra options.
func New(opts ...Option) *Filter {
	f := &Filter{
		placeholder: Placeholder,
		rules: []Rule{
			phoneRule,
			regexRule(emailPattern, 0),
			regexRule(obfuscatedEmailPattern, 0),
			regexRule(spelledDigitsPattern, 0),
			regexRule(handlePattern, 1),
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFilter = New()

// Scan redacts text with the default rule set.
func Scan(text string) (string, bool) {
	return defaultFilter.Scan(text)
}

// Scan returns text with every detected contact span replaced by the
// placeholder, and whether anything was replaced. Invalid UTF-8 is replaced
// with U+FFFD first so spans always fall on code point boundaries.
func (f *Filter) Scan(text string) (string, bool) {
	if text == "" {
		return text, false
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	var spans []span
	for _, rule := range f.rules {
		for _, loc := range rule(text) {
			if loc[1] > loc[0] {
				spans = append(spans, span{loc[0], loc[1]})
			}
		}
	}
	if len(spans) == 0 {
		return text, false
	}

	spans = merge(spans)

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, s := range spans {
		b.WriteString(text[prev:s.start])
		b.WriteString(f.placeholder)
		prev = s.end
	}
	b.WriteString(text[prev:])

	return b.String(), true
}

// merge sorts spans and joins overlapping or touching ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start == spans[j].start {
			return spans[i].end > spans[j].end
		}
		return spans[i].start < spans[j].start
	})

	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func regexRule(re *regexp.Regexp, group int) Rule {
	return func(text string) [][2]int {
		var out [][2]int
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*group], m[2*group+1]
			if start < 0 {
				continue
			}
			out = append(out, [2]int{start, end})
		}
		return out
	}
}

// phoneRule keeps only candidate runs carrying at least MinPhoneDigits digits.
// A run that is exactly a calendar date is left alone.
func phoneRule(text string) [][2]int {
	var out [][2]int
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		run := text[loc[0]:loc[1]]
		if countDigits(run) < MinPhoneDigits || isDate(run) {
			continue
		}
		out = append(out, [2]int{loc[0], loc[1]})
	}
	return out
}

// isDate matches 2024-05-12 and 12.05.2024 with a plausible month and day.
func isDate(s string) bool {
	var day, month string
	if m := isoDatePattern.FindStringSubmatch(s); m != nil && m[1] == m[3] {
		month, day = m[2], m[4]
	} else if m := dmyDatePattern.FindStringSubmatch(s); m != nil && m[2] == m[4] {
		day, month = m[1], m[3]
	} else {
		return false
	}
	d, _ := strconv.Atoi(day)
	mo, _ := strconv.Atoi(month)
	return d >= 1 && d <= 31 && mo >= 1 && mo <= 12
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
