package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern      = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	dollarPattern   = regexp.MustCompile(`\$(\d+(?:\.\d{1,2})?)`)
	minutesPattern  = regexp.MustCompile(`(?i)\b(\d+)\s*(?:mins?|minutes?)\b`)
	hoursPattern    = regexp.MustCompile(`(?i)\b(\d+)\s*(?:hrs?|hours?)\b`)
	apptPattern     = regexp.MustCompile(`(?i)\bappt(s?)\b`)
	withPattern     = regexp.MustCompile(`(?i)\bw/\s*`)
	ampersandSpaced = regexp.MustCompile(`\s*&\s*`)
)

// expandVocabulary spells out booking shorthand that synthesizers tend to read letter by letter.
func expandVocabulary(s string) string {
	s = dollarPattern.ReplaceAllStringFunc(s, func(m string) string {
		amount := dollarPattern.FindStringSubmatch(m)[1]
		if amount == "1" {
			return "1 dollar"
		}
		return amount + " dollars"
	})
	s = minutesPattern.ReplaceAllStringFunc(s, func(m string) string {
		return pluralUnit(minutesPattern.FindStringSubmatch(m)[1], "minute")
	})
	s = hoursPattern.ReplaceAllStringFunc(s, func(m string) string {
		return pluralUnit(hoursPattern.FindStringSubmatch(m)[1], "hour")
	})
	s = apptPattern.ReplaceAllString(s, "appointment$1")
	s = withPattern.ReplaceAllString(s, "with ")
	s = ampersandSpaced.ReplaceAllString(s, " and ")
	return s
}

func pluralUnit(n, unit string) string {
	if n == "1" {
		return n + " " + unit
	}
	return n + " " + unit + "s"
}

// sanitize removes markup and symbol noise so synthesized speech sounds conversational.
func sanitize(raw string) string {
	raw = urlPattern.ReplaceAllString(raw, " ")
	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
		"`", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and math glyphs.
			continue
		case isSpeakablePunctuation(r):
			if prevSpace && isClosingPunctuation(r) {
				trimTrailingSpace(&b)
			}
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isSpeakablePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}

func isClosingPunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', ')':
		return true
	default:
		return false
	}
}

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " ")
	if len(trimmed) == len(s) {
		return
	}
	b.Reset()
	b.WriteString(trimmed)
}
