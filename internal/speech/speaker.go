package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"ArticlesPodcast/internal/audio"
)

// DefaultCommand speaks stdin and writes a WAV stream to stdout.
var DefaultCommand = []string{"espeak-ng", "--stdout", "-v", "{voice}"}

const frameBytes = 8192

// CommandSpeaker runs an external text-to-speech command per call. The
// placeholder {voice} in any argument is replaced by the voice id.
type CommandSpeaker struct {
	command []string
}

var _ Speaker = (*CommandSpeaker)(nil)

func NewCommandSpeaker(command []string) *CommandSpeaker {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &CommandSpeaker{command: append([]string(nil), command...)}
}

func (s *CommandSpeaker) Speak(ctx context.Context, text, voice string, frames chan<- Frame) error {
	args := make([]string, len(s.command))
	for i, a := range s.command {
		args[i] = strings.ReplaceAll(a, "{voice}", voice)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", args[0], err)
	}

	streamErr := streamWAV(ctx, bufio.NewReader(stdout), frames)
	if streamErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return fmt.Errorf("%s killed by %s: %w", args[0], status.Signal(), ErrCancelled)
			}
		}
		return fmt.Errorf("%s: %w: %s", args[0], waitErr, strings.TrimSpace(stderr.String()))
	}
	if streamErr != nil {
		return streamErr
	}
	return nil
}

// streamWAV reads a RIFF/WAVE stream whose data chunk length may be unknown
// and forwards the PCM payload as frames, ending with a terminal frame.
func streamWAV(ctx context.Context, r *bufio.Reader, frames chan<- Frame) error {
	format, err := readWAVHeader(r)
	if err != nil {
		return err
	}

	blockAlign := format.Channels * format.BitDepth / 8
	buf := make([]byte, frameBytes-frameBytes%blockAlign)
	for {
		n, err := io.ReadAtLeast(r, buf, blockAlign)
		n -= n % blockAlign
		if n > 0 {
			frame := Frame{Format: format, Samples: decodeSamples(buf[:n], format.BitDepth)}
			if !send(ctx, frames, frame) {
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}
	}

	if !send(ctx, frames, Frame{Format: format}) {
		return ctx.Err()
	}
	return nil
}

func send(ctx context.Context, frames chan<- Frame, f Frame) bool {
	select {
	case frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func readWAVHeader(r io.Reader) (audio.Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return audio.Format{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return audio.Format{}, fmt.Errorf("not a wav stream")
	}

	var format audio.Format
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return audio.Format{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return audio.Format{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if size < 16 {
				return audio.Format{}, fmt.Errorf("short fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return audio.Format{}, fmt.Errorf("unsupported wav encoding %d", tag)
			}
			format = audio.Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				BitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
			}
			if size%2 == 1 {
				_, _ = io.CopyN(io.Discard, r, 1)
			}
		case "data":
			if !format.Valid() {
				return audio.Format{}, fmt.Errorf("data chunk before valid fmt chunk")
			}
			return format, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2)); err != nil {
				return audio.Format{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

func decodeSamples(b []byte, bitDepth int) []int {
	width := bitDepth / 8
	out := make([]int, len(b)/width)
	for i := range out {
		p := b[i*width:]
		switch bitDepth {
		case 8:
			out[i] = int(p[0])
		case 16:
			out[i] = int(int16(binary.LittleEndian.Uint16(p)))
		case 24:
			v := int32(p[0]) | int32(p[1])<<8 | int32(p[2])<<16
			out[i] = int(v<<8) >> 8
		case 32:
			out[i] = int(int32(binary.LittleEndian.Uint32(p)))
		}
	}
	return out
}
