// Package normaliser cleans extracted tab text before it is chunked.
// Extension-side extraction is best effort, so snapshots occasionally
// carry residual markup, entities and messy whitespace.
package normaliser

import (
	"html"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions for markup stripping performance.
var (
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	multiSpaces   = regexp.MustCompile(`[ \t]+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// CleanText strips residual markup and normalises whitespace. Plain text
// passes through unchanged apart from whitespace normalisation.
func CleanText(text string) string {
	if !strings.ContainsRune(text, '<') && !strings.ContainsRune(text, '&') {
		return collapseWhitespace(text)
	}

	text = scriptTag.ReplaceAllString(text, "")
	text = styleTag.ReplaceAllString(text, "")
	text = htmlComments.ReplaceAllString(text, "")

	// Block boundaries become line breaks so chunking keeps paragraphs.
	text = blockElements.ReplaceAllString(text, "\n")
	text = allTags.ReplaceAllString(text, " ")

	text = html.UnescapeString(text)
	return collapseWhitespace(text)
}

// CleanTitle normalises a page title to a single trimmed line.
func CleanTitle(title string) string {
	title = allTags.ReplaceAllString(title, " ")
	title = html.UnescapeString(title)
	title = strings.Join(strings.Fields(title), " ")
	return title
}

func collapseWhitespace(text string) string {
	text = multiSpaces.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = strings.Join(lines, "\n")
	text = multiNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
