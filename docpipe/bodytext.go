package docpipe

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BodyText returns the text inside the <body> of tagged output with markup
// removed and entities decoded. Trimmed, it equals the trimmed plain-text
// extraction of the same document.
func BodyText(tagged string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(tagged))
	var sb strings.Builder
	inBody := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", newError(KindDecodeError, "body text", err)
			}
			return sb.String(), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				inBody = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				inBody = false
			}
		case html.TextToken:
			if inBody {
				sb.Write(z.Text())
			}
		}
	}
}
