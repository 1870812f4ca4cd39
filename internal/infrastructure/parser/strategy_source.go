package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ArticlesPodcast/internal/extractor"
	"ArticlesPodcast/internal/ports"
	"ArticlesPodcast/internal/textclean"
)

// StrategyExtractor implements ports.Extractor via registered strategies.
type StrategyExtractor struct {
	registry *extractor.Registry
	logger   *slog.Logger
}

var _ ports.Extractor = (*StrategyExtractor)(nil)

// NewStrategyExtractor wires the strategy registry.
func NewStrategyExtractor(reg *extractor.Registry, log *slog.Logger) *StrategyExtractor {
	return &StrategyExtractor{
		registry: reg,
		logger:   log,
	}
}

// NewDefaultRegistry registers the arxiv strategy in front of the generic
// readability fallback.
func NewDefaultRegistry(fetcher *Fetcher) *extractor.Registry {
	readability := NewReadabilityStrategy(fetcher)
	reg := extractor.NewRegistry(readability)
	reg.Register(NewArxivStrategy(fetcher, readability), ArxivHosts...)
	return reg
}

// Extract resolves a strategy for the URL host, runs it and normalizes the
// markup it returns.
func (s *StrategyExtractor) Extract(ctx context.Context, rawURL string) (ports.Extraction, error) {
	if s.registry == nil {
		return ports.Extraction{}, fmt.Errorf("extractor registry is not configured")
	}

	u, err := extractor.ParseURL(rawURL)
	if err != nil {
		return ports.Extraction{}, err
	}

	strategy, err := s.registry.Resolve(u.Hostname())
	if err != nil {
		return ports.Extraction{}, fmt.Errorf("host %s: %w", u.Hostname(), err)
	}
	s.debug("extract", "url", u.String(), "strategy", strategy.Name())

	res, err := strategy.Extract(ctx, extractor.Request{URL: u})
	if err != nil {
		return ports.Extraction{}, fmt.Errorf("%s: %w", strategy.Name(), err)
	}

	text := textclean.Clean(res.HTML)
	if text == "" {
		return ports.Extraction{}, fmt.Errorf("%s: %w", u.String(), extractor.ErrNoContent)
	}

	title := textclean.Clean(res.Title)
	if title == "" {
		title = strings.TrimPrefix(u.Hostname(), "www.")
	}
	if title == "" {
		title = "Untitled"
	}

	out := ports.Extraction{
		Title:   title,
		Author:  textclean.Clean(res.Author),
		Excerpt: textclean.Clean(res.Excerpt),
		Text:    text,
	}
	s.debug("extracted", "url", u.String(), "title", out.Title, "words", textclean.WordCount(text))
	return out, nil
}

func (s *StrategyExtractor) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
