package modelfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrInProgress is returned when a download is already running.
var ErrInProgress = errors.New("model download already in progress")

// DefaultURL is the published Kokoro v1.0 ONNX model.
const DefaultURL = "https://github.com/thewh1teagle/kokoro-onnx/releases/download/model-files-v1.0/kokoro-v1.0.onnx"

// Progress is called with bytes written so far and the expected total, which
// is -1 when the server does not send a length.
type Progress func(written, total int64)

// Downloader fetches model files, one at a time.
type Downloader struct {
	client *http.Client
	busy   atomic.Bool
	logger *slog.Logger
}

func NewDownloader(client *http.Client, logger *slog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, logger: logger}
}

// InProgress reports whether a download is running.
func (d *Downloader) InProgress() bool {
	return d.busy.Load()
}

// Fetch streams url into dest. Data goes to dest+".part" first and is renamed
// once complete, so dest never holds a partial file.
func (d *Downloader) Fetch(ctx context.Context, url, dest string, onProgress Progress) (int64, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return 0, ErrInProgress
	}
	defer d.busy.Store(false)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create models dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}

	d.logger.Info("downloading model", "url", url, "dest", dest, "size", resp.ContentLength)
	pw := &progressWriter{w: f, total: resp.ContentLength, fn: onProgress}
	written, err := io.Copy(pw, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && resp.ContentLength >= 0 && written != resp.ContentLength {
		err = fmt.Errorf("short download: %d of %d bytes", written, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("download model: %w", err)
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("install model: %w", err)
	}
	d.logger.Info("model downloaded", "dest", dest, "bytes", written)
	return written, nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.fn != nil {
		p.fn(p.written, p.total)
	}
	return n, err
}
