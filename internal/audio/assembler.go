package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrCompositionFailed = errors.New("failed to create audio composition")
	ErrExportFailed      = errors.New("failed to export audio file")
	ErrNoEncoder         = errors.New("no encoder for output type")
)

// Segment places one unit on the assembled timeline.
type Segment struct {
	Path     string
	Start    float64
	Duration float64
}

// Assembly is the result of a successful concatenation.
type Assembly struct {
	Path            string
	DurationSeconds float64
	Segments        []Segment
	Skipped         int
}

// Assembler concatenates ordered units into one exported file.
type Assembler struct {
	format Format
	logger *slog.Logger
}

// NewAssembler expects every unit in format.
func NewAssembler(format Format, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{format: format, logger: logger}
}

// Concatenate appends each unit at the current timeline cursor and exports the
// result to dest, replacing whatever is there. The total duration is the sum of
// unit durations. Units without audio are skipped. Unit files are removed on
// every exit path.
func (a *Assembler) Concatenate(ctx context.Context, units []Unit, dest string) (Assembly, error) {
	defer removeUnits(units)

	if len(units) == 0 {
		return Assembly{}, fmt.Errorf("no units: %w", ErrCompositionFailed)
	}
	if !encodable(dest) {
		return Assembly{}, fmt.Errorf("%s: %w: %w", filepath.Ext(dest), ErrNoEncoder, ErrExportFailed)
	}

	tmp := dest + ".tmp"
	w, err := Create(tmp, a.format)
	if err != nil {
		return Assembly{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	result := Assembly{Path: dest}
	cursor := 0.0
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			abort(w, tmp)
			return Assembly{}, err
		}

		buf, format, err := ReadPCM(unit.Path)
		if errors.Is(err, ErrNoAudioTrack) {
			a.logger.Debug("skip unit without audio", "index", i, "path", unit.Path)
			result.Skipped++
			continue
		}
		if err != nil {
			abort(w, tmp)
			return Assembly{}, fmt.Errorf("unit %d: %w: %w", i, ErrCompositionFailed, err)
		}
		if format != a.format {
			abort(w, tmp)
			return Assembly{}, fmt.Errorf("unit %d is %s, want %s: %w", i, format, a.format, ErrCompositionFailed)
		}

		if err := w.Write(buf.Data); err != nil {
			abort(w, tmp)
			return Assembly{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
		}

		seconds := float64(frames(buf.Data, format.Channels)) / float64(format.SampleRate)
		result.Segments = append(result.Segments, Segment{Path: unit.Path, Start: cursor, Duration: seconds})
		cursor += seconds
	}

	if len(result.Segments) == 0 {
		abort(w, tmp)
		return Assembly{}, fmt.Errorf("all %d units lack audio: %w", len(units), ErrCompositionFailed)
	}

	if err := w.Close(); err != nil {
		_ = os.Remove(tmp)
		return Assembly{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	if err := replaceFile(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return Assembly{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	result.DurationSeconds = cursor
	a.logger.Debug("assembled audio", "path", dest, "segments", len(result.Segments), "skipped", result.Skipped, "duration", cursor)
	return result, nil
}

func encodable(dest string) bool {
	return strings.EqualFold(filepath.Ext(dest), ".wav")
}

func replaceFile(src, dest string) error {
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing %s: %w", dest, err)
	}
	return os.Rename(src, dest)
}

func abort(w *Writer, tmp string) {
	_ = w.Close()
	_ = os.Remove(tmp)
}

func removeUnits(units []Unit) {
	for _, u := range units {
		if u.Path != "" {
			_ = os.Remove(u.Path)
		}
	}
}
