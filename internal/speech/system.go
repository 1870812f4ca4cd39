package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ArticlesPodcast/internal/audio"
)

// DefaultTimeout bounds one system synthesis call.
const DefaultTimeout = 60 * time.Second

// Frame is a chunk of interleaved PCM produced by a Speaker. A frame with no
// samples marks the end of the stream.
type Frame struct {
	Format  audio.Format
	Samples []int
}

// Speaker streams synthesized frames for text. It must stop sending once ctx is
// done and report ErrCancelled when the backend session is cancelled from
// outside.
type Speaker interface {
	Speak(ctx context.Context, text, voice string, frames chan<- Frame) error
}

// SystemEngine wraps a platform speech backend. Its model is always loaded.
type SystemEngine struct {
	speaker Speaker
	voices  []Voice
	timeout time.Duration
	tempDir string
	logger  *slog.Logger
}

var _ Engine = (*SystemEngine)(nil)

// SystemOption customizes a SystemEngine.
type SystemOption func(*SystemEngine)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) SystemOption {
	return func(e *SystemEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTempDir sets where raw units are written.
func WithTempDir(dir string) SystemOption {
	return func(e *SystemEngine) { e.tempDir = dir }
}

// NewSystemEngine builds the always-available engine.
func NewSystemEngine(speaker Speaker, voices []Voice, logger *slog.Logger, opts ...SystemOption) *SystemEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(voices) == 0 {
		voices = []Voice{{ID: "en-us", Name: "English (US)", Language: "en-US"}}
	}
	e := &SystemEngine{speaker: speaker, voices: voices, timeout: DefaultTimeout, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *SystemEngine) Kind() Kind { return KindSystem }

func (e *SystemEngine) IsModelLoaded() bool { return true }

func (e *SystemEngine) LoadModel(context.Context) error { return nil }

func (e *SystemEngine) AvailableVoices() []Voice {
	return append([]Voice(nil), e.voices...)
}

// Synthesize races the frame stream against the timeout and ctx. Whichever
// finishes first decides the result.
func (e *SystemEngine) Synthesize(ctx context.Context, text, voiceID string) (audio.Unit, error) {
	voice := e.resolveVoice(voiceID)

	f, err := tempUnitFile(e.tempDir)
	if err != nil {
		return audio.Unit{}, fmt.Errorf("create temp unit: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan Frame)
	done := make(chan error, 1)
	go func() {
		done <- e.speaker.Speak(sctx, text, voice, frames)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	var w *audio.Writer
	fail := func(err error) (audio.Unit, error) {
		cancel()
		if w != nil {
			_ = w.Close()
		}
		_ = os.Remove(path)
		return audio.Unit{}, err
	}
	finish := func() (audio.Unit, error) {
		if w == nil {
			var err error
			if w, err = audio.Create(path, audio.DefaultFormat); err != nil {
				return fail(fmt.Errorf("%w: %w", ErrEncoder, err))
			}
		}
		if err := w.Close(); err != nil {
			w = nil
			return fail(fmt.Errorf("%w: %w", ErrEncoder, err))
		}
		return w.Unit(), nil
	}

	for {
		select {
		case frame := <-frames:
			if len(frame.Samples) == 0 {
				return finish()
			}
			if w == nil {
				if w, err = audio.Create(path, frame.Format); err != nil {
					return fail(fmt.Errorf("%w: %w", ErrEncoder, err))
				}
			}
			if err := w.Write(frame.Samples); err != nil {
				return fail(fmt.Errorf("%w: %w", ErrEncoder, err))
			}
		case err := <-done:
			switch {
			case ctx.Err() != nil:
				return fail(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
			case err == nil:
				return finish()
			case errors.Is(err, ErrCancelled):
				return fail(err)
			default:
				return fail(fmt.Errorf("%w: %w", ErrEncoder, err))
			}
		case <-timer.C:
			e.logger.Warn("speech synthesis timed out", "timeout", e.timeout, "voice", voice)
			return fail(fmt.Errorf("%w after %s", ErrTimeout, e.timeout))
		case <-ctx.Done():
			return fail(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		}
	}
}

// resolveVoice maps id onto one of the engine's voices. Ids that belong to
// another engine fall back to the first voice.
func (e *SystemEngine) resolveVoice(id string) string {
	for _, v := range e.voices {
		if v.ID == id {
			return id
		}
	}
	return e.voices[0].ID
}
