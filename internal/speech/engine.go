// Package speech holds the synthesis engines that turn one paragraph of text
// into one audio unit.
package speech

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"

	"ArticlesPodcast/internal/audio"
)

var (
	ErrTimeout            = errors.New("speech synthesis timed out")
	ErrCancelled          = errors.New("speech synthesis was cancelled")
	ErrModelNotFound      = errors.New("speech model not found")
	ErrModelNotLoaded     = errors.New("speech model not loaded")
	ErrRuntimeUnavailable = errors.New("speech runtime unavailable")
	ErrEncoder            = errors.New("speech encoder failed")
)

// Kind names an engine variant. It is the value stored under the ttsEngine
// setting.
type Kind string

const (
	KindSystem Kind = "system"
	KindKokoro Kind = "kokoro"
)

// ParseKind maps a stored setting to a Kind. Unknown values resolve to the
// system engine.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindKokoro:
		return KindKokoro
	default:
		return KindSystem
	}
}

// Voice is one selectable voice of an engine.
type Voice struct {
	ID       string
	Name     string
	Language string
}

// Engine synthesizes a single paragraph. Implementations write the unit to a
// temporary file owned by the caller.
type Engine interface {
	Kind() Kind
	IsModelLoaded() bool
	LoadModel(ctx context.Context) error
	AvailableVoices() []Voice
	Synthesize(ctx context.Context, text, voiceID string) (audio.Unit, error)
}

// Registry resolves engines by kind. The fallback engine is always present.
type Registry struct {
	engines  map[Kind]Engine
	fallback Engine
}

// NewRegistry registers fallback plus any additional engines.
func NewRegistry(fallback Engine, engines ...Engine) *Registry {
	r := &Registry{engines: map[Kind]Engine{fallback.Kind(): fallback}, fallback: fallback}
	for _, e := range engines {
		r.engines[e.Kind()] = e
	}
	return r
}

// Resolve returns the engine registered for the setting value, or the fallback.
func (r *Registry) Resolve(setting string) Engine {
	if e, ok := r.engines[ParseKind(setting)]; ok {
		return e
	}
	return r.fallback
}

// Fallback is the always-available engine.
func (r *Registry) Fallback() Engine {
	return r.fallback
}

// Engines lists registered engines ordered by kind.
func (r *Registry) Engines() []Engine {
	out := make([]Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

func tempUnitFile(dir string) (*os.File, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.CreateTemp(dir, "speech-*.wav")
}
