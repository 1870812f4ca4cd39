package usecase

import (
	"context"
	"os"
	"testing"
	"time"

	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/extractor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessItemProducesAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/a", article("First paragraph here.\n\nSecond one."))

	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))

	got, err := h.repo.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAudioReady, got.State)
	assert.Equal(t, []domain.State{
		domain.StateExtracting,
		domain.StateExtracted,
		domain.StateGeneratingAudio,
		domain.StateAudioReady,
	}, h.repo.states(item.ID))

	assert.Equal(t, "A Title", got.Title)
	require.NotNil(t, got.Author)
	assert.Equal(t, "Ada", *got.Author)
	require.NotNil(t, got.WordCount)
	assert.Equal(t, 5, *got.WordCount)
	assert.NotNil(t, got.ExtractedAt)
	assert.NotNil(t, got.AudioGeneratedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.TotalParagraphs)
	assert.Nil(t, got.ProcessedParagraphs)

	require.NotNil(t, got.AudioFilePath)
	assert.Equal(t, item.ID+".wav", *got.AudioFilePath)
	assert.FileExists(t, h.files.Resolve(*got.AudioFilePath))
	assert.NoDirExists(t, h.files.ScratchDir(item.ID))
	require.NotNil(t, got.AudioDurationSeconds)
	assert.InDelta(t, 1.0, *got.AudioDurationSeconds, 0.001)

	require.NotEmpty(t, h.repo.progress)
	assert.Equal(t, [2]int{2, 2}, h.repo.progress[len(h.repo.progress)-1])

	require.Len(t, h.notifier.items, 1)
	assert.Equal(t, domain.StateAudioReady, h.notifier.items[0].State)
}

func TestProcessItemRecordsExtractionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/broken", nil)
	h.extractor.err = extractor.ErrInvalidURL

	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))

	got, err := h.repo.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExtractionFailed, got.State)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "invalid")
	assert.Equal(t, []domain.State{domain.StateExtracting, domain.StateExtractionFailed}, h.repo.states(item.ID))
	assert.Empty(t, h.speaker.usedVoices())

	require.Len(t, h.notifier.items, 1)
	assert.Equal(t, domain.StateExtractionFailed, h.notifier.items[0].State)
}

func TestProcessItemWithoutTextFailsAudioPhase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/empty", article("   "))

	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))

	got, err := h.repo.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAudioGenerationFailed, got.State)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, NoTextMessage, *got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)
}

func TestProcessItemFallsBackWhenModelMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	require.NoError(t, h.settings.Set(context.Background(), KeyTTSEngine, "kokoro"))
	require.NoError(t, h.settings.Set(context.Background(), KeyVoiceID, "af_bella"))
	item := h.add(t, "https://example.com/neural", article("Only paragraph."))

	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))

	got, err := h.repo.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAudioReady, got.State)
	assert.Equal(t, []string{"en-us"}, h.speaker.usedVoices())
}

func TestProcessItemRecordsSynthesisTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 50*time.Millisecond)
	h.speaker.hang = true
	item := h.add(t, "https://example.com/slow", article("One.\n\nTwo."))

	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))

	got, err := h.repo.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAudioGenerationFailed, got.State)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "timed out")
	assert.Nil(t, got.TotalParagraphs)
	assert.Nil(t, got.AudioFilePath)
	assert.NoFileExists(t, h.files.AudioPath(item.ID))
	assert.NoDirExists(t, h.files.ScratchDir(item.ID))
}

func TestProcessItemSkipsSettledItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/done", article("Text."))
	item.State = domain.StateAudioReady
	h.repo.put(item)

	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))
	assert.Zero(t, h.extractor.calls)
}

func TestProcessItemRefusesWhenBusy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/a", article("Text here."))

	h.orchestrator.busy.Store(true)
	assert.True(t, h.orchestrator.Busy())
	assert.ErrorIs(t, h.orchestrator.ProcessItem(context.Background(), item), ErrBusy)
	_, err := h.orchestrator.RecoverNext(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	h.orchestrator.busy.Store(false)
	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))
	assert.False(t, h.orchestrator.Busy())
}

func TestRecoverNextWithoutWork(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	picked, err := h.orchestrator.RecoverNext(context.Background())
	require.NoError(t, err)
	assert.False(t, picked)
}

func TestRecoverNextTakesOldestPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	first := h.add(t, "https://example.com/1", article("First text."))
	second := h.add(t, "https://example.com/2", article("Second text."))

	picked, err := h.orchestrator.RecoverNext(context.Background())
	require.NoError(t, err)
	assert.True(t, picked)

	got, _ := h.repo.Get(context.Background(), first.ID)
	assert.Equal(t, domain.StateAudioReady, got.State)
	got, _ = h.repo.Get(context.Background(), second.ID)
	assert.Equal(t, domain.StatePending, got.State)
}

func TestInterruptedPhaseLeavesStateForRecovery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/slow", nil)
	h.extractor.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.orchestrator.ProcessItem(ctx, item)
	require.ErrorIs(t, err, ErrInterrupted)

	got, _ := h.repo.Get(context.Background(), item.ID)
	assert.Equal(t, domain.StateExtracting, got.State)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, h.notifier.items)

	n, err := h.queue.RecoverOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = h.repo.Get(context.Background(), item.ID)
	assert.Equal(t, domain.StatePending, got.State)
}

func TestSchedulerRunOnceRespectsBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/slow", nil)
	h.extractor.block = true

	NewScheduler(nil, h.orchestrator, 50*time.Millisecond, nil).RunOnce(context.Background(), time.Now())

	got, _ := h.repo.Get(context.Background(), item.ID)
	assert.Equal(t, domain.StateExtracting, got.State)
	assert.False(t, h.orchestrator.Busy())
}

func TestProcessItemRemovesNoStrayTempFiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/a", article("One paragraph.\n\nAnother paragraph."))
	require.NoError(t, h.orchestrator.ProcessItem(context.Background(), item))

	entries, err := os.ReadDir(h.files.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
