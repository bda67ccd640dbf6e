package speech

import (
	"regexp"
	"strings"
)

// DefaultMaxChunkChars keeps each synthesized utterance short enough that
// interruption feels immediate and engines do not truncate.
const DefaultMaxChunkChars = 200

// sentencePattern ends a sentence on terminal punctuation that is not followed
// directly by another word character, so "25.50" and "10.30" stay whole.
var sentencePattern = regexp.MustCompile(`(?:[^.!?]|[.!?]+["')]*[^\s.!?"')])+(?:[.!?]+["')]*|$)`)

// SplitForSpeech groups sentences into chunks of at most maxChars. Sentences
// longer than maxChars are split on word boundaries.
func SplitForSpeech(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	add := func(piece string) {
		if current.Len() > 0 && current.Len()+1+len(piece) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(piece)
	}

	for _, sentence := range sentencePattern.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if len(sentence) <= maxChars {
			add(sentence)
			continue
		}
		flush()
		for _, part := range splitWords(sentence, maxChars) {
			add(part)
			flush()
		}
	}
	flush()
	return chunks
}

func splitWords(sentence string, maxChars int) []string {
	var (
		out  []string
		line strings.Builder
	)
	for _, w := range strings.Fields(sentence) {
		if line.Len() > 0 && line.Len()+1+len(w) > maxChars {
			out = append(out, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(w)
	}
	if line.Len() > 0 {
		out = append(out, line.String())
	}
	return out
}
