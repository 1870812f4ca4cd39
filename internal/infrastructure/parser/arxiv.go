package parser

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ArticlesPodcast/internal/extractor"
)

// ArxivHosts are the hosts served by ArxivStrategy.
var ArxivHosts = []string{"arxiv.org"}

var paperIDExpr = regexp.MustCompile(`/(?:abs|pdf|html)/([^?#]+?)(?:\.pdf)?/?$`)

// ArxivStrategy reads paper abstract pages. Links to the PDF or HTML rendering
// are rewritten to the abstract page; anything else goes to the fallback.
type ArxivStrategy struct {
	fetcher  *Fetcher
	fallback extractor.Strategy
}

var _ extractor.Strategy = (*ArxivStrategy)(nil)

func NewArxivStrategy(fetcher *Fetcher, fallback extractor.Strategy) *ArxivStrategy {
	return &ArxivStrategy{fetcher: fetcher, fallback: fallback}
}

// Name identifies the strategy inside the registry.
func (a *ArxivStrategy) Name() string {
	return "arxiv"
}

func (a *ArxivStrategy) Extract(ctx context.Context, req extractor.Request) (extractor.Result, error) {
	absURL, ok := abstractURL(req.URL)
	if !ok {
		if a.fallback == nil {
			return extractor.Result{}, fmt.Errorf("%s is not an arxiv paper: %w", req.URL, extractor.ErrNoContent)
		}
		return a.fallback.Extract(ctx, req)
	}

	doc, err := a.fetcher.fetchDocument(ctx, absURL)
	if err != nil {
		return extractor.Result{}, err
	}
	return parseAbstractPage(doc), nil
}

func abstractURL(u *url.URL) (string, bool) {
	m := paperIDExpr.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	abs := *u
	abs.Path = "/abs/" + m[1]
	abs.RawQuery = ""
	abs.Fragment = ""
	return abs.String(), true
}

func parseAbstractPage(doc *goquery.Document) extractor.Result {
	title := collapse(doc.Find("h1.title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	if title == "" {
		title = firstAttr(doc, "content", `meta[name="citation_title"]`)
	}

	var authors []string
	doc.Find(".authors a").Each(func(_ int, s *goquery.Selection) {
		if name := collapse(s.Text()); name != "" {
			authors = append(authors, name)
		}
	})
	if len(authors) == 0 {
		doc.Find(`meta[name="citation_author"]`).Each(func(_ int, s *goquery.Selection) {
			if name, ok := s.Attr("content"); ok && name != "" {
				authors = append(authors, name)
			}
		})
	}

	summary := collapse(doc.Find("blockquote.abstract").First().Text())
	summary = strings.TrimSpace(strings.TrimPrefix(summary, "Abstract:"))

	var body []string
	if title != "" {
		body = append(body, html.EscapeString(title))
	}
	if summary != "" {
		body = append(body, html.EscapeString(summary))
	}

	return extractor.Result{
		Title:   title,
		Author:  strings.Join(authors, ", "),
		Excerpt: summary,
		HTML:    strings.Join(body, "\n\n"),
	}
}
