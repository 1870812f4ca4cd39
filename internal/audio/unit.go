// Package audio holds the common audio unit format used between synthesis and
// assembly: PCM WAV files described by Format.
package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNoAudioTrack marks a file that carries no PCM audio.
var ErrNoAudioTrack = errors.New("no audio track")

const wavFormatPCM = 1

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is the container format units are normalized to.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitDepth: 16}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// Valid reports whether every field is usable.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && (f.BitDepth == 8 || f.BitDepth == 16 || f.BitDepth == 24 || f.BitDepth == 32)
}

// Unit is the synthesized audio of one paragraph.
type Unit struct {
	Path   string
	Format Format
	Frames int
}

// Seconds is the unit duration derived from its frame count.
func (u Unit) Seconds() float64 {
	if u.Format.SampleRate <= 0 {
		return 0
	}
	return float64(u.Frames) / float64(u.Format.SampleRate)
}

// Duration is Seconds as a time.Duration.
func (u Unit) Duration() time.Duration {
	return time.Duration(u.Seconds() * float64(time.Second))
}

// Inspect reads the header and frame count of a WAV file.
func Inspect(path string) (Unit, error) {
	buf, format, err := ReadPCM(path)
	if err != nil {
		return Unit{Path: path}, err
	}
	return Unit{Path: path, Format: format, Frames: frames(buf.Data, format.Channels)}, nil
}

// ReadPCM decodes the whole PCM payload of a WAV file. Files that are not WAV,
// or whose data chunk is empty, yield ErrNoAudioTrack.
func ReadPCM(path string) (*goaudio.IntBuffer, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("%s: %w", path, ErrNoAudioTrack)
	}
	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, format, fmt.Errorf("%s: %w", path, ErrNoAudioTrack)
	}
	if dec.PCMLen() == 0 {
		return nil, format, fmt.Errorf("%s: %w", path, ErrNoAudioTrack)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, format, fmt.Errorf("decode %s: %w", path, err)
	}
	if frames(buf.Data, format.Channels) == 0 {
		return nil, format, fmt.Errorf("%s: %w", path, ErrNoAudioTrack)
	}
	return buf, format, nil
}

// Writer streams PCM samples into a WAV file.
type Writer struct {
	file    *os.File
	enc     *wav.Encoder
	format  Format
	samples int
	started bool
}

// Create opens path for writing, truncating any existing file.
func Create(path string, format Format) (*Writer, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid audio format %s", format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Writer{
		file:   f,
		enc:    wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM),
		format: format,
	}, nil
}

// Write appends interleaved samples.
func (w *Writer) Write(samples []int) error {
	w.started = true
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: w.format.Channels, SampleRate: w.format.SampleRate},
		Data:           samples,
		SourceBitDepth: w.format.BitDepth,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	w.samples += len(samples)
	return nil
}

// Frames is the number of frames written so far.
func (w *Writer) Frames() int {
	return w.samples / w.format.Channels
}

// Path is the file being written.
func (w *Writer) Path() string {
	return w.file.Name()
}

// Close finalizes the WAV header and closes the file.
func (w *Writer) Close() error {
	if !w.started {
		if err := w.Write(nil); err != nil {
			_ = w.file.Close()
			return err
		}
	}
	if err := w.enc.Close(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.file.Name(), err)
	}
	return nil
}

// Unit describes the written file. Valid after Close.
func (w *Writer) Unit() Unit {
	return Unit{Path: w.file.Name(), Format: w.format, Frames: w.Frames()}
}

// WriteFile writes samples to path in one go.
func WriteFile(path string, format Format, samples []int) (Unit, error) {
	w, err := Create(path, format)
	if err != nil {
		return Unit{}, err
	}
	if err := w.Write(samples); err != nil {
		_ = w.Close()
		return Unit{}, err
	}
	if err := w.Close(); err != nil {
		return Unit{}, err
	}
	return w.Unit(), nil
}

func frames(samples []int, channels int) int {
	if channels <= 0 {
		return 0
	}
	return len(samples) / channels
}
