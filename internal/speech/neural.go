package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"ArticlesPodcast/internal/audio"
)

// KokoroVoices is the voice table exposed by the neural engine.
var KokoroVoices = []Voice{
	{ID: "af_heart", Name: "Heart", Language: "en-US"},
	{ID: "af_bella", Name: "Bella", Language: "en-US"},
	{ID: "af_nova", Name: "Nova", Language: "en-US"},
	{ID: "af_sarah", Name: "Sarah", Language: "en-US"},
	{ID: "am_adam", Name: "Adam", Language: "en-US"},
	{ID: "am_michael", Name: "Michael", Language: "en-US"},
	{ID: "bf_emma", Name: "Emma", Language: "en-GB"},
	{ID: "bm_daniel", Name: "Daniel", Language: "en-GB"},
}

// Runtime executes the neural model. Speech writes a WAV stream to w.
type Runtime interface {
	Health(ctx context.Context) error
	Speech(ctx context.Context, text, voice string, w io.Writer) error
}

// NeuralEngine runs the Kokoro model through an inference runtime. The model
// counts as loaded once its weights are on disk and the runtime answers.
type NeuralEngine struct {
	runtime   Runtime
	modelPath string
	timeout   time.Duration
	tempDir   string
	loaded    atomic.Bool
	logger    *slog.Logger
}

var _ Engine = (*NeuralEngine)(nil)

func NewNeuralEngine(runtime Runtime, modelPath string, timeout time.Duration, tempDir string, logger *slog.Logger) *NeuralEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &NeuralEngine{runtime: runtime, modelPath: modelPath, timeout: timeout, tempDir: tempDir, logger: logger}
}

func (e *NeuralEngine) Kind() Kind { return KindKokoro }

func (e *NeuralEngine) IsModelLoaded() bool { return e.loaded.Load() }

// ModelPath is where the model file is expected.
func (e *NeuralEngine) ModelPath() string { return e.modelPath }

func (e *NeuralEngine) LoadModel(ctx context.Context) error {
	info, err := os.Stat(e.modelPath)
	if err != nil || info.IsDir() || info.Size() == 0 {
		e.loaded.Store(false)
		return fmt.Errorf("%s: %w", e.modelPath, ErrModelNotFound)
	}
	if e.runtime == nil {
		e.loaded.Store(false)
		return fmt.Errorf("no runtime configured: %w", ErrRuntimeUnavailable)
	}
	if err := e.runtime.Health(ctx); err != nil {
		e.loaded.Store(false)
		return fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
	}
	e.loaded.Store(true)
	e.logger.Info("neural model loaded", "model", e.modelPath)
	return nil
}

func (e *NeuralEngine) AvailableVoices() []Voice {
	return append([]Voice(nil), KokoroVoices...)
}

func (e *NeuralEngine) Synthesize(ctx context.Context, text, voiceID string) (audio.Unit, error) {
	if !e.loaded.Load() {
		return audio.Unit{}, ErrModelNotLoaded
	}
	if voiceID == "" || !knownVoice(voiceID) {
		voiceID = KokoroVoices[0].ID
	}

	f, err := tempUnitFile(e.tempDir)
	if err != nil {
		return audio.Unit{}, fmt.Errorf("create temp unit: %w", err)
	}
	path := f.Name()

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err = e.runtime.Speech(sctx, text, voiceID, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		switch {
		case ctx.Err() != nil:
			return audio.Unit{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case errors.Is(sctx.Err(), context.DeadlineExceeded):
			return audio.Unit{}, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		default:
			return audio.Unit{}, fmt.Errorf("%w: %w", ErrEncoder, err)
		}
	}

	unit, err := audio.Inspect(path)
	if err != nil {
		_ = os.Remove(path)
		return audio.Unit{}, fmt.Errorf("%w: runtime returned no audio: %w", ErrEncoder, err)
	}
	return unit, nil
}

func knownVoice(id string) bool {
	for _, v := range KokoroVoices {
		if v.ID == id {
			return true
		}
	}
	return false
}
