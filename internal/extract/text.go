package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
)

const byteOrderMark = "\ufeff"

// TextReader reads plain text and markdown.
type TextReader struct{}

func (TextReader) Read(_ context.Context, _ Document, data []byte) (*Content, error) {
	c := &Content{Confidence: 1}
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "\uFFFD"))
		c.Warnings = append(c.Warnings, "invalid UTF-8 replaced")
	}
	text, base := string(data), 0
	if strings.HasPrefix(text, byteOrderMark) {
		text, base = text[len(byteOrderMark):], len(byteOrderMark)
	}
	c.Blocks = SplitText(text, 0, base)
	return c, nil
}

// NewTextAdapter handles constants.KindText.
func NewTextAdapter(opts Options) Adapter {
	return NewAdapter("text", []constants.DocumentKind{constants.KindText}, TextReader{}, opts)
}
