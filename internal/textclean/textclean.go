// Package textclean turns extracted article markup into plain text suitable for
// speech synthesis and splits it into paragraphs.
package textclean

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	tagExpr        = regexp.MustCompile(`<[^>]+>`)
	decimalExpr    = regexp.MustCompile(`&#(\d+);`)
	hexExpr        = regexp.MustCompile(`&#x([0-9a-fA-F]+);`)
	horizontalExpr = regexp.MustCompile(`[ \t]+`)
	newlinesExpr   = regexp.MustCompile(`\n{3,}`)
)

// namedEntities is applied in order, before numeric entities.
var namedEntities = []struct{ entity, text string }{
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", "\""},
	{"&#39;", "'"},
	{"&apos;", "'"},
	{"&nbsp;", " "},
	{"&ndash;", "-"},
	{"&mdash;", "—"},
	{"&lsquo;", "‘"},
	{"&rsquo;", "’"},
	{"&ldquo;", "“"},
	{"&rdquo;", "”"},
	{"&hellip;", "..."},
	{"&trade;", "™"},
	{"&copy;", "©"},
	{"&reg;", "®"},
}

// boilerplate phrases are removed by plain substring match.
var boilerplate = []string{
	"Advertisement",
	"[Read more]",
	"[Continue reading]",
	"Share this article",
	"Subscribe to our newsletter",
	"Click here to",
}

// Clean strips tags, decodes entities, drops boilerplate phrases and
// normalizes whitespace.
func Clean(raw string) string {
	text := tagExpr.ReplaceAllString(raw, "")

	for _, e := range namedEntities {
		text = strings.ReplaceAll(text, e.entity, e.text)
	}
	text = decodeNumeric(text, decimalExpr, 10)
	text = decodeNumeric(text, hexExpr, 16)

	for _, phrase := range boilerplate {
		text = strings.ReplaceAll(text, phrase, "")
	}

	text = horizontalExpr.ReplaceAllString(text, " ")
	text = newlinesExpr.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// SplitParagraphs splits on blank-line boundaries and drops segments that are
// empty or a single character after trimming.
func SplitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	paragraphs := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if utf8.RuneCountInString(part) <= 1 {
			continue
		}
		paragraphs = append(paragraphs, part)
	}
	return paragraphs
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// decodeNumeric replaces numeric entities whose code point is a valid scalar
// value; anything else is left as written.
func decodeNumeric(text string, expr *regexp.Regexp, base int) string {
	return expr.ReplaceAllStringFunc(text, func(match string) string {
		digits := expr.FindStringSubmatch(match)[1]
		cp, err := strconv.ParseUint(digits, base, 32)
		if err != nil {
			return match
		}
		r := rune(cp)
		if !utf8.ValidRune(r) {
			return match
		}
		return string(r)
	})
}
