// Package speech turns assistant markdown into text a speech synthesizer can read aloud.
package speech

import (
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ProcessForSpeech flattens markdown into speakable sentences: code and HTML are
// dropped, link labels are kept, block boundaries become sentence boundaries and
// symbol noise is removed.
func ProcessForSpeech(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	plain := markdownToPlain([]byte(raw))
	return sanitize(expandVocabulary(plain))
}

func markdownToPlain(src []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.RawHTML,
			*ast.AutoLink, *ast.Image, *extast.TaskCheckBox:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if !entering {
				return ast.WalkContinue, nil
			}
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.CodeSpan:
			if entering {
				for c := node.FirstChild(); c != nil; c = c.NextSibling() {
					if t, ok := c.(*ast.Text); ok {
						b.Write(t.Segment.Value(src))
					}
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading, *ast.Paragraph, *ast.TextBlock, *extast.TableRow, *extast.TableHeader:
			if !entering {
				endSentence(&b)
			}
		case *extast.TableCell:
			if !entering {
				b.WriteString(", ")
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// endSentence terminates the text written so far so adjacent blocks are not read as one run-on sentence.
func endSentence(b *strings.Builder) {
	s := strings.TrimRightFunc(b.String(), func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	if s == "" {
		b.Reset()
		return
	}
	b.Reset()
	b.WriteString(s)
	last := []rune(s)[len([]rune(s))-1]
	switch last {
	case '.', '!', '?', ':', ';':
	default:
		b.WriteByte('.')
	}
	b.WriteByte(' ')
}
