package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL = errors.New("invalid URL")
	ErrNoContent  = errors.New("no extractable content")
)

// Request carries the page to extract.
type Request struct {
	URL     *url.URL
	Options map[string]string
}

// Result is what a strategy pulled from a page. HTML is raw markup that still
// needs normalizing.
type Result struct {
	Title   string
	Author  string
	Excerpt string
	HTML    string
}

// Strategy captures a single site-specific extraction implementation.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, req Request) (Result, error)
}

// Registry maps hosts to strategies, with a fallback for everything else.
type Registry struct {
	strategies map[string]Strategy
	hosts      map[string]string
	fallback   Strategy
}

// NewRegistry builds a registry whose unmatched hosts go to fallback.
func NewRegistry(fallback Strategy) *Registry {
	r := &Registry{strategies: map[string]Strategy{}, hosts: map[string]string{}, fallback: fallback}
	if fallback != nil {
		r.strategies[fallback.Name()] = fallback
	}
	return r
}

// Register adds or replaces a strategy and binds it to hosts. A host also
// matches its subdomains.
func (r *Registry) Register(strategy Strategy, hosts ...string) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
		r.hosts = map[string]string{}
	}
	r.strategies[strategy.Name()] = strategy
	for _, h := range hosts {
		r.hosts[strings.ToLower(h)] = strategy.Name()
	}
}

// Resolve returns the strategy for host, or the fallback.
func (r *Registry) Resolve(host string) (Strategy, error) {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for h := host; h != ""; {
		if name, ok := r.hosts[h]; ok {
			return r.strategies[name], nil
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no strategy registered for %s", host)
}

// ParseURL accepts absolute http and https URLs with a host.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return u, nil
}
