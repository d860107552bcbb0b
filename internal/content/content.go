// Package content normalizes legacy markup for the target platform.
package content

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// preCode matches legacy <pre><code> blocks, with an optional =lang suffix
// on the code tag.
var preCode = regexp.MustCompile(`(?is)<pre>\s*<code(?:=[a-z]*)?>(.*?)</code>\s*</pre>`)

// Transform rewrites <pre><code> blocks into fenced code blocks and decodes
// HTML entities inside the code only. Text outside code blocks is left as
// is. The rewrite runs until no block remains, so decoded code that itself
// spells a block is rewritten too and Transform(Transform(s)) == Transform(s).
// Every pass shortens s, so the loop ends.
func Transform(s string) string {
	for preCode.MatchString(s) {
		s = preCode.ReplaceAllStringFunc(s, func(block string) string {
			body := preCode.FindStringSubmatch(block)[1]
			return "```\n" + html.UnescapeString(body) + "\n```"
		})
	}
	return s
}

// UnescapeTitle decodes HTML entities in a title-like field. Bodies never
// go through it.
func UnescapeTitle(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}
