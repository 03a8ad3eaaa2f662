package templates

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	mdParser = goldmark.New()

	// Markdown output may embed context values, so it is sanitized like
	// user content.
	ugcPolicy   = bluemonday.UGCPolicy()
	plainPolicy = bluemonday.StrictPolicy()

	blockEnd   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|table|blockquote|pre)>|<br\s*/?>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// MarkdownToHTML converts rendered Markdown into sanitized HTML.
func MarkdownToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := mdParser.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return ugcPolicy.Sanitize(buf.String()), nil
}

// HTMLToText strips markup from an HTML body, keeping block boundaries as
// line breaks.
func HTMLToText(body string) string {
	body = blockEnd.ReplaceAllStringFunc(body, func(tag string) string { return tag + "\n" })
	text := html.UnescapeString(plainPolicy.Sanitize(body))

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
}
