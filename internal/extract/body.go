// Package extract turns a message's MIME part tree into a short
// plain-text preview.
package extract

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"
)

// PreviewLimit is the number of characters kept when the full body is
// not requested.
const PreviewLimit = 200

const ellipsis = "..."

// Part is one node of a message's MIME tree. Leaves carry base64url
// content in Data; containers carry Parts.
type Part struct {
	MIMEType string
	Data     string
	Parts    []Part
}

// htmlTagPattern matches anything between angle brackets.
var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// Body returns the readable text of payload. It prefers the first
// text/plain leaf, then the first text/html leaf with tags removed, and
// finally falls back to snippet. Entities in HTML are left as-is.
func Body(payload Part, snippet string) string {
	if isType(payload.MIMEType, "text/plain") && len(payload.Parts) == 0 {
		if text := decode(payload.Data); text != "" {
			return text
		}
	}

	if text := firstLeaf(payload, "text/plain"); text != "" {
		return text
	}

	if html := firstLeaf(payload, "text/html"); html != "" {
		if text := StripHTML(html); text != "" {
			return text
		}
	}

	return snippet
}

// Preview truncates body to PreviewLimit characters followed by an
// ellipsis unless full is set.
func Preview(body string, full bool) string {
	if full {
		return body
	}
	runes := []rune(body)
	if len(runes) <= PreviewLimit {
		return body
	}
	return string(runes[:PreviewLimit]) + ellipsis
}

// StripHTML removes markup tags. It is not an HTML parser.
func StripHTML(html string) string {
	return htmlTagPattern.ReplaceAllString(html, "")
}

// firstLeaf walks the tree depth-first, in document order, and returns
// the decoded content of the first leaf of mimeType that is non-empty.
// An explicit stack bounds memory use on deeply nested input.
func firstLeaf(root Part, mimeType string) string {
	stack := []*Part{&root}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(p.Parts) > 0 {
			for i := len(p.Parts) - 1; i >= 0; i-- {
				stack = append(stack, &p.Parts[i])
			}
			continue
		}

		if isType(p.MIMEType, mimeType) {
			if text := decode(p.Data); text != "" {
				return text
			}
		}
	}
	return ""
}

func isType(got, want string) bool {
	if i := strings.IndexByte(got, ';'); i >= 0 {
		got = got[:i]
	}
	return strings.EqualFold(strings.TrimSpace(got), want)
}

// decode reads base64url content with or without padding. Data that is
// not valid base64url or not valid UTF-8 yields the empty string.
func decode(data string) string {
	if data == "" {
		return ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil || !utf8.Valid(raw) {
		return ""
	}
	return string(raw)
}

// Encode is the inverse of decode, for providers that hand over raw bytes.
func Encode(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
