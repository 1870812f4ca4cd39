package usecase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/infrastructure/storage"
	"ArticlesPodcast/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHeld begins processing item on o with extraction held open and waits
// until the extractor has been entered.
func startHeld(t *testing.T, h *harness, o *Orchestrator, item domain.WorkItem) (release func(), done <-chan error) {
	t.Helper()
	release = h.extractor.hold()
	t.Cleanup(release)
	errs := make(chan error, 1)
	go func() { errs <- o.ProcessItem(context.Background(), item) }()
	h.extractor.waitEntered(t)
	return release, errs
}

func TestSecondProcessorIsRefusedWhileFirstRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/shared", article("One reader at a time."))
	release, done := startHeld(t, h, h.orchestrator, item)

	peer, peerQueue := h.processor(h.repo, time.Second)
	assert.False(t, peer.Busy())

	_, err := peerQueue.RecoverOrphans(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = peerQueue.ProcessPending(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	picked, err := peer.RecoverNext(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, picked)
	assert.ErrorIs(t, peer.ProcessItem(ctx, item), ErrBusy)

	got, _ := h.repo.Get(ctx, item.ID)
	assert.Equal(t, domain.StateExtracting, got.State, "running item must not be reset")

	release()
	require.NoError(t, <-done)

	got, _ = h.repo.Get(ctx, item.ID)
	assert.Equal(t, domain.StateAudioReady, got.State)
	assert.Equal(t, []domain.State{
		domain.StateExtracting,
		domain.StateExtracted,
		domain.StateGeneratingAudio,
		domain.StateAudioReady,
	}, h.repo.states(item.ID))
	assert.Equal(t, 1, h.extractor.calls)
	assert.False(t, h.repo.leaseHeld(ProcessingLease))

	n, err := peerQueue.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteDuringProcessingStaysDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, time.Second)
	repo, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "podcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	o, queue := h.processor(repo, time.Second)
	item, err := NewIntake(repo, domain.SortGap, nil).Add(ctx, "https://example.com/gone", "")
	require.NoError(t, err)
	h.extractor.set(item.URL, *article("Text nobody will hear."))

	release, done := startHeld(t, h, o, item)
	require.NoError(t, queue.Delete(ctx, item.ID))
	release()
	require.NoError(t, <-done)

	_, err = repo.Get(ctx, item.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	items, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoFileExists(t, h.files.AudioPath(item.ID))
	assert.NoDirExists(t, h.files.ScratchDir(item.ID))
	assert.Empty(t, h.notifier.items)

	ok, err := repo.Acquire(ctx, ProcessingLease, "someone-else", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease is released after the run")
}

func TestMoveDuringProcessingKeepsSortOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, time.Second)
	a := h.add(t, "https://example.com/a", article("First text."))
	b := h.add(t, "https://example.com/b", article("Second text."))
	c := h.add(t, "https://example.com/c", article("Third text."))

	release, done := startHeld(t, h, h.orchestrator, a)
	require.NoError(t, h.queue.Move(ctx, []string{b.ID, c.ID, a.ID}))
	release()
	require.NoError(t, <-done)

	got, _ := h.repo.Get(ctx, a.ID)
	assert.Equal(t, domain.StateAudioReady, got.State)
	assert.Equal(t, 200, got.SortOrder)

	next, err := h.repo.OldestPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, next.ID)
}

func TestPlaybackAndRetryRejectedDuringProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/busy", article("Still being read."))

	release, done := startHeld(t, h, h.orchestrator, item)

	_, err := h.queue.StartPlayback(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Error(t, h.queue.SavePosition(ctx, item.ID, 1, 1))
	_, err = h.queue.Retry(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	release()
	require.NoError(t, <-done)

	played, err := h.queue.StartPlayback(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePlaying, played.State)
	require.NoError(t, h.queue.SavePosition(ctx, item.ID, 0.25, 1.5))

	got, _ := h.repo.Get(ctx, item.ID)
	assert.Equal(t, 0.25, got.PlaybackPosition)
	assert.Equal(t, 1.5, got.PlaybackRate)
	require.NotNil(t, got.AudioFilePath)
}

func TestOrphanResetTakesOverExpiredLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, time.Second)
	item := h.add(t, "https://example.com/crashed", article("Left mid-run."))
	item.State = domain.StateGeneratingAudio
	h.repo.put(item)

	ok, err := h.repo.Acquire(ctx, ProcessingLease, "crashed-process", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		n, err := h.queue.RecoverOrphans(ctx)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	got, _ := h.repo.Get(ctx, item.ID)
	assert.Equal(t, domain.StatePending, got.State)
}

func TestLostLeaseInterruptsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	h.orchestrator.leaseTTL = 30 * time.Millisecond
	item := h.add(t, "https://example.com/stolen", article("Text."))

	_, done := startHeld(t, h, h.orchestrator, item)

	h.repo.mu.Lock()
	h.repo.leases[ProcessingLease] = memLease{owner: "other", expires: time.Now().Add(time.Hour)}
	h.repo.mu.Unlock()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(5 * time.Second):
		t.Fatal("run kept going after its lease was taken")
	}

	got, _ := h.repo.Get(context.Background(), item.ID)
	assert.Equal(t, domain.StateExtracting, got.State)
	assert.Zero(t, got.RetryCount)
	assert.True(t, h.repo.leaseHeld(ProcessingLease), "the other owner's lease survives release")
}
