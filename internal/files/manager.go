// Package files owns the on-disk layout of exported audio, per-item scratch
// directories and downloaded models.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const audioExt = ".wav"

// Manager resolves and manages paths under a single data directory.
type Manager struct {
	root string
}

func NewManager(dataDir string) *Manager {
	return &Manager{root: dataDir}
}

// Ensure creates the audio and models directories.
func (m *Manager) Ensure() error {
	for _, dir := range []string{m.AudioDir(), m.ModelsDir(), m.TempDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (m *Manager) Root() string { return m.root }

func (m *Manager) AudioDir() string { return filepath.Join(m.root, "audio") }

func (m *Manager) ModelsDir() string { return filepath.Join(m.root, "models") }

// TempDir holds raw engine output before it is normalized.
func (m *Manager) TempDir() string { return filepath.Join(m.root, "tmp") }

// AudioFileName is the stored audio reference of an item.
func (m *Manager) AudioFileName(itemID string) string { return itemID + audioExt }

// AudioPath is the exported audio file of an item.
func (m *Manager) AudioPath(itemID string) string {
	return filepath.Join(m.AudioDir(), m.AudioFileName(itemID))
}

// Resolve turns a stored audio reference into an absolute path.
func (m *Manager) Resolve(ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(m.AudioDir(), ref)
}

// ScratchDir holds the per-paragraph units of an item while it is produced.
func (m *Manager) ScratchDir(itemID string) string {
	return filepath.Join(m.AudioDir(), itemID)
}

// ParagraphPath is the unit file of paragraph index, zero-padded.
func (m *Manager) ParagraphPath(itemID string, index int) string {
	return filepath.Join(m.ScratchDir(itemID), fmt.Sprintf("%03d%s", index, audioExt))
}

// ModelPath is where a model file named name is stored.
func (m *Manager) ModelPath(name string) string {
	return filepath.Join(m.ModelsDir(), name)
}

// Delete removes the exported audio and the scratch directory of an item.
func (m *Manager) Delete(itemID string) error {
	err := os.Remove(m.AudioPath(itemID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove audio: %w", err)
	}
	return m.RemoveScratch(itemID)
}

func (m *Manager) RemoveScratch(itemID string) error {
	if err := os.RemoveAll(m.ScratchDir(itemID)); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

// TotalStorageUsed sums the size of every file under the audio directory.
func (m *Manager) TotalStorageUsed() (int64, error) {
	return dirSize(m.AudioDir())
}

// ModelStorageUsed sums the size of downloaded models.
func (m *Manager) ModelStorageUsed() (int64, error) {
	return dirSize(m.ModelsDir())
}

// DeleteAll removes every exported audio file and scratch directory. Models
// are kept.
func (m *Manager) DeleteAll() (int, error) {
	entries, err := os.ReadDir(m.AudioDir())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read audio dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.EqualFold(filepath.Ext(e.Name()), audioExt) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.AudioDir(), e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		if !e.IsDir() {
			removed++
		}
	}
	return removed, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	return total, nil
}

// FormatBytes renders a byte count for display.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
