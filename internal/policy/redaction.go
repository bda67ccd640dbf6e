// Package policy masks caller PII before transcripts leave the process.
package policy

import "regexp"

// Kind names one class of redacted data.
type Kind string

const (
	KindEmail Kind = "email"
	KindCard  Kind = "card"
	KindPhone Kind = "phone"
)

type rule struct {
	kind    Kind
	pattern *regexp.Regexp
	marker  string
}

// Card numbers run before phones so long digit runs are not reported as phone numbers.
var rules = []rule{
	{KindEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{KindCard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{KindPhone, regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redaction reports what RedactTranscript replaced.
type Redaction struct {
	Text   string
	Counts map[Kind]int
}

// Changed reports whether anything was masked.
func (r Redaction) Changed() bool {
	return len(r.Counts) > 0
}

// RedactTranscript masks emails, card numbers and phone numbers in one
// utterance and counts the matches per kind.
func RedactTranscript(input string) Redaction {
	out := Redaction{Text: input}
	for _, rl := range rules {
		n := len(rl.pattern.FindAllStringIndex(out.Text, -1))
		if n == 0 {
			continue
		}
		if out.Counts == nil {
			out.Counts = make(map[Kind]int, len(rules))
		}
		out.Counts[rl.kind] += n
		out.Text = rl.pattern.ReplaceAllString(out.Text, rl.marker)
	}
	return out
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	r := RedactTranscript(input)
	return r.Text, r.Changed()
}
