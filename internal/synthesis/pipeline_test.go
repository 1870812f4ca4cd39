package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ArticlesPodcast/internal/audio"
	"ArticlesPodcast/internal/speech"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirLayout string

func (d dirLayout) ScratchDir(id string) string { return filepath.Join(string(d), id) }

func (d dirLayout) ParagraphPath(id string, i int) string {
	return filepath.Join(string(d), id, fmt.Sprintf("%03d.wav", i))
}

type fakeEngine struct {
	kind    speech.Kind
	loadErr error
	loaded  bool
	format  audio.Format
	dir     string
	failAt  int

	mu     sync.Mutex
	calls  []string
	voices []string
}

func (e *fakeEngine) Kind() speech.Kind { return e.kind }

func (e *fakeEngine) IsModelLoaded() bool { return e.loaded }

func (e *fakeEngine) LoadModel(context.Context) error {
	if e.loadErr != nil {
		return e.loadErr
	}
	e.loaded = true
	return nil
}

func (e *fakeEngine) AvailableVoices() []speech.Voice { return nil }

func (e *fakeEngine) Synthesize(_ context.Context, text, voiceID string) (audio.Unit, error) {
	e.mu.Lock()
	n := len(e.calls)
	e.calls = append(e.calls, text)
	e.voices = append(e.voices, voiceID)
	e.mu.Unlock()

	if e.failAt > 0 && n+1 == e.failAt {
		return audio.Unit{}, speech.ErrTimeout
	}
	frames := e.format.SampleRate / 10 * (n + 1)
	data := make([]int, frames*e.format.Channels)
	return audio.WriteFile(filepath.Join(e.dir, fmt.Sprintf("raw-%d.wav", n)), e.format, data)
}

func newEngine(t *testing.T, kind speech.Kind) *fakeEngine {
	return &fakeEngine{kind: kind, loaded: true, format: audio.DefaultFormat, dir: t.TempDir()}
}

func drain(ch chan Progress) []Progress {
	close(ch)
	var out []Progress
	for p := range ch {
		out = append(out, p)
	}
	return out
}

func TestRunRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	p := NewPipeline(newEngine(t, speech.KindSystem), dirLayout(t.TempDir()), audio.DefaultFormat, nil)
	_, err := p.Run(context.Background(), "item", nil, nil, "", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestRunSynthesizesInOrderAndReportsProgress(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	engine := newEngine(t, speech.KindSystem)
	p := NewPipeline(engine, dirLayout(root), audio.DefaultFormat, nil)
	progress := make(chan Progress, 2)

	units, err := p.Run(context.Background(), "item", []string{"Para one.", "Para two."}, engine, "en-us", progress)
	require.NoError(t, err)

	assert.Equal(t, []string{"Para one.", "Para two."}, engine.calls)
	assert.Equal(t, []Progress{
		{ItemID: "item", Processed: 1, Total: 2},
		{ItemID: "item", Processed: 2, Total: 2},
	}, drain(progress))

	require.Len(t, units, 2)
	assert.Equal(t, filepath.Join(root, "item", "000.wav"), units[0].Path)
	assert.Equal(t, filepath.Join(root, "item", "001.wav"), units[1].Path)
	assert.Equal(t, 2400, units[0].Frames)
	assert.Equal(t, 4800, units[1].Frames)
}

func TestRunNeverBlocksOnProgress(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, speech.KindSystem)
	p := NewPipeline(engine, dirLayout(t.TempDir()), audio.DefaultFormat, nil)
	progress := make(chan Progress)

	units, err := p.Run(context.Background(), "item", []string{"a a", "b b", "c c"}, engine, "", progress)
	require.NoError(t, err)
	assert.Len(t, units, 3)
}

func TestRunFallsBackWhenModelMissing(t *testing.T) {
	t.Parallel()

	system := newEngine(t, speech.KindSystem)
	neural := newEngine(t, speech.KindKokoro)
	neural.loaded = false
	neural.loadErr = speech.ErrModelNotFound

	p := NewPipeline(system, dirLayout(t.TempDir()), audio.DefaultFormat, nil)
	units, err := p.Run(context.Background(), "item", []string{"Hello.", "World."}, neural, "af_heart", nil)
	require.NoError(t, err)
	assert.Len(t, units, 2)
	assert.Empty(t, neural.calls)
	assert.Len(t, system.calls, 2)
	assert.Equal(t, []string{"", ""}, system.voices)
}

func TestRunLoadsConfiguredEngine(t *testing.T) {
	t.Parallel()

	system := newEngine(t, speech.KindSystem)
	neural := newEngine(t, speech.KindKokoro)
	neural.loaded = false

	p := NewPipeline(system, dirLayout(t.TempDir()), audio.DefaultFormat, nil)
	_, err := p.Run(context.Background(), "item", []string{"Hello."}, neural, "af_heart", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"af_heart"}, neural.voices)
	assert.Empty(t, system.calls)
}

func TestRunConvertsToPipelineFormat(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, speech.KindSystem)
	engine.format = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

	p := NewPipeline(engine, dirLayout(t.TempDir()), audio.DefaultFormat, nil)
	units, err := p.Run(context.Background(), "item", []string{"Hello."}, engine, "", nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, audio.DefaultFormat, units[0].Format)
	assert.Equal(t, 2400, units[0].Frames)

	entries, err := os.ReadDir(engine.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunAbortsOnParagraphFailure(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, speech.KindSystem)
	engine.failAt = 2
	p := NewPipeline(engine, dirLayout(t.TempDir()), audio.DefaultFormat, nil)
	progress := make(chan Progress, 3)

	units, err := p.Run(context.Background(), "item", []string{"one", "two", "three"}, engine, "", progress)
	require.Error(t, err)
	assert.True(t, errors.Is(err, speech.ErrTimeout))
	assert.Nil(t, units)
	assert.Len(t, engine.calls, 2)
	assert.Equal(t, []Progress{{ItemID: "item", Processed: 1, Total: 3}}, drain(progress))
}

func TestRunStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, speech.KindSystem)
	p := NewPipeline(engine, dirLayout(t.TempDir()), audio.DefaultFormat, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "item", []string{"one"}, engine, "", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, engine.calls)
}
