package parser

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ArticlesPodcast/internal/extractor"
)

const (
	contentRoots = "article, main, [role=main], #content, .post-content, .entry-content"
	blocks       = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre"
)

var noise = strings.Join([]string{
	"script", "style", "noscript", "template", "svg", "nav", "header", "footer", "aside",
	"form", "iframe", "button", "figure", ".ad", ".ads", ".advertisement", ".share", ".social",
	".related", ".comments", ".newsletter", "[aria-hidden=true]",
}, ", ")

// ReadabilityStrategy pulls the main text blocks out of any article page.
type ReadabilityStrategy struct {
	fetcher *Fetcher
}

var _ extractor.Strategy = (*ReadabilityStrategy)(nil)

func NewReadabilityStrategy(fetcher *Fetcher) *ReadabilityStrategy {
	return &ReadabilityStrategy{fetcher: fetcher}
}

// Name identifies the strategy inside the registry.
func (r *ReadabilityStrategy) Name() string {
	return "readability"
}

func (r *ReadabilityStrategy) Extract(ctx context.Context, req extractor.Request) (extractor.Result, error) {
	doc, err := r.fetcher.fetchDocument(ctx, req.URL.String())
	if err != nil {
		return extractor.Result{}, err
	}
	return readDocument(doc), nil
}

func readDocument(doc *goquery.Document) extractor.Result {
	result := extractor.Result{
		Title:   firstAttr(doc, "content", `meta[property="og:title"]`, `meta[name="twitter:title"]`),
		Author:  firstAttr(doc, "content", `meta[name="author"]`, `meta[property="article:author"]`),
		Excerpt: firstAttr(doc, "content", `meta[name="description"]`, `meta[property="og:description"]`),
	}
	if result.Title == "" {
		result.Title = firstText(doc, "title", "h1")
	}
	if result.Author == "" {
		result.Author = firstText(doc, `[rel="author"]`, ".author", ".byline")
	}

	root := doc.Find(contentRoots).First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	root.Find(noise).Remove()

	var parts []string
	root.Find(blocks).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, blockquote, pre").Length() > 0 {
			return
		}
		html, err := s.Html()
		if err != nil {
			return
		}
		if html = collapse(html); html != "" {
			parts = append(parts, html)
		}
	})
	if len(parts) == 0 {
		if html, err := root.Html(); err == nil {
			parts = append(parts, html)
		}
	}

	result.HTML = strings.Join(parts, "\n\n")
	return result
}
