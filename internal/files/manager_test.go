package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	t.Parallel()

	m := NewManager("/data")
	assert.Equal(t, filepath.Join("/data", "audio", "abc.wav"), m.AudioPath("abc"))
	assert.Equal(t, filepath.Join("/data", "audio", "abc"), m.ScratchDir("abc"))
	assert.Equal(t, filepath.Join("/data", "audio", "abc", "007.wav"), m.ParagraphPath("abc", 7))
	assert.Equal(t, filepath.Join("/data", "audio", "abc", "123.wav"), m.ParagraphPath("abc", 123))
	assert.Equal(t, filepath.Join("/data", "models"), m.ModelsDir())
	assert.Equal(t, "abc.wav", m.AudioFileName("abc"))
	assert.Equal(t, m.AudioPath("abc"), m.Resolve("abc.wav"))
	assert.Equal(t, "/elsewhere/x.wav", m.Resolve("/elsewhere/x.wav"))
}

func TestDeleteRemovesAudioAndScratch(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir())
	require.NoError(t, m.Ensure())
	require.NoError(t, os.MkdirAll(m.ScratchDir("a"), 0o755))
	require.NoError(t, os.WriteFile(m.ParagraphPath("a", 0), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(m.AudioPath("a"), []byte("audio"), 0o644))

	require.NoError(t, m.Delete("a"))
	assert.NoFileExists(t, m.AudioPath("a"))
	assert.NoDirExists(t, m.ScratchDir("a"))

	require.NoError(t, m.Delete("missing"))
}

func TestStorageAccounting(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir())
	used, err := m.TotalStorageUsed()
	require.NoError(t, err)
	assert.Zero(t, used)

	require.NoError(t, m.Ensure())
	require.NoError(t, os.WriteFile(m.AudioPath("a"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(m.AudioPath("b"), make([]byte, 50), 0o644))
	require.NoError(t, os.MkdirAll(m.ScratchDir("c"), 0o755))
	require.NoError(t, os.WriteFile(m.ParagraphPath("c", 0), make([]byte, 25), 0o644))
	require.NoError(t, os.WriteFile(m.ModelPath("kokoro.onnx"), make([]byte, 1000), 0o644))

	used, err = m.TotalStorageUsed()
	require.NoError(t, err)
	assert.EqualValues(t, 175, used)

	models, err := m.ModelStorageUsed()
	require.NoError(t, err)
	assert.EqualValues(t, 1000, models)

	removed, err := m.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	used, err = m.TotalStorageUsed()
	require.NoError(t, err)
	assert.Zero(t, used)
	assert.FileExists(t, m.ModelPath("kokoro.onnx"))
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "3.0 MB", FormatBytes(3*1024*1024))
}
