// Package synthesis turns an ordered list of paragraphs into ordered audio
// units, one engine call at a time.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"ArticlesPodcast/internal/audio"
	"ArticlesPodcast/internal/speech"
)

var ErrEmptyInput = errors.New("no paragraphs to synthesize")

// Progress reports that Processed of Total paragraphs are done.
type Progress struct {
	ItemID    string
	Processed int
	Total     int
}

// Layout names where per-paragraph units are kept.
type Layout interface {
	ScratchDir(itemID string) string
	ParagraphPath(itemID string, index int) string
}

// Pipeline runs paragraphs through an engine sequentially.
type Pipeline struct {
	fallback speech.Engine
	layout   Layout
	format   audio.Format
	logger   *slog.Logger
}

func NewPipeline(fallback speech.Engine, layout Layout, format audio.Format, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if !format.Valid() {
		format = audio.DefaultFormat
	}
	return &Pipeline{fallback: fallback, layout: layout, format: format, logger: logger}
}

// Format is the container format every returned unit is in.
func (p *Pipeline) Format() audio.Format {
	return p.format
}

// Run synthesizes paragraphs in order. If engine cannot load its model, the
// fallback engine is used for this run only. After each paragraph a Progress
// value is offered on progress without blocking; a full or nil channel drops
// it. Any paragraph failure aborts the run, and units already written stay in
// the scratch directory for the caller to remove.
func (p *Pipeline) Run(ctx context.Context, itemID string, paragraphs []string, engine speech.Engine, voiceID string, progress chan<- Progress) ([]audio.Unit, error) {
	if len(paragraphs) == 0 {
		return nil, ErrEmptyInput
	}

	engine, voiceID = p.selectEngine(ctx, engine, voiceID)

	if err := os.MkdirAll(p.layout.ScratchDir(itemID), 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	total := len(paragraphs)
	units := make([]audio.Unit, 0, total)
	for i, text := range paragraphs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := engine.Synthesize(ctx, text, voiceID)
		if err != nil {
			return nil, fmt.Errorf("paragraph %d/%d: %w", i+1, total, err)
		}

		unit, err := p.normalize(raw, p.layout.ParagraphPath(itemID, i))
		if err != nil {
			return nil, fmt.Errorf("paragraph %d/%d: convert: %w", i+1, total, err)
		}
		units = append(units, unit)

		p.logger.Debug("paragraph synthesized", "item_id", itemID, "paragraph", i+1, "total", total, "engine", engine.Kind())
		offer(progress, Progress{ItemID: itemID, Processed: i + 1, Total: total})
	}

	return units, nil
}

func (p *Pipeline) selectEngine(ctx context.Context, engine speech.Engine, voiceID string) (speech.Engine, string) {
	if engine == nil {
		return p.fallback, ""
	}
	if engine.IsModelLoaded() {
		return engine, voiceID
	}
	err := engine.LoadModel(ctx)
	if err == nil {
		return engine, voiceID
	}
	p.logger.Warn("engine unavailable, falling back",
		"engine", engine.Kind(),
		"fallback", p.fallback.Kind(),
		"error", err,
	)
	return p.fallback, ""
}

// normalize moves raw into dst in the pipeline format. Units without audio are
// kept as they are so the assembler can skip them.
func (p *Pipeline) normalize(raw audio.Unit, dst string) (audio.Unit, error) {
	unit, err := audio.Convert(raw, dst, p.format)
	if errors.Is(err, audio.ErrNoAudioTrack) {
		if err := os.Rename(raw.Path, dst); err != nil {
			return audio.Unit{}, err
		}
		return audio.Unit{Path: dst, Format: p.format}, nil
	}
	return unit, err
}

func offer(progress chan<- Progress, v Progress) {
	if progress == nil {
		return
	}
	select {
	case progress <- v:
	default:
	}
}
