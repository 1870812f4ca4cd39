package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/files"
	"ArticlesPodcast/internal/ports"
)

// QueueDeps wires the queue use cases.
type QueueDeps struct {
	Repository   ports.WorkItemRepository
	Orchestrator *Orchestrator
	Settings     *Settings
	Files        *files.Manager
	SortGap      int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Queue holds the user-owned mutations of the article list.
type Queue struct {
	repo         ports.WorkItemRepository
	orchestrator *Orchestrator
	settings     *Settings
	files        *files.Manager
	gap          int
	now          func() time.Time
	logger       *slog.Logger
}

func NewQueue(deps QueueDeps) *Queue {
	q := &Queue{
		repo:         deps.Repository,
		orchestrator: deps.Orchestrator,
		settings:     deps.Settings,
		files:        deps.Files,
		gap:          deps.SortGap,
		now:          deps.Now,
		logger:       deps.Logger,
	}
	if q.gap <= 0 {
		q.gap = domain.SortGap
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// List returns every item in sort order.
func (q *Queue) List(ctx context.Context) ([]domain.WorkItem, error) {
	return q.repo.List(ctx)
}

func (q *Queue) Get(ctx context.Context, id string) (domain.WorkItem, error) {
	return q.repo.Get(ctx, id)
}

// Retry resets a failed item to pending and processes it.
func (q *Queue) Retry(ctx context.Context, id string) (domain.WorkItem, error) {
	item, err := q.repo.Get(ctx, id)
	if err != nil {
		return domain.WorkItem{}, err
	}
	from := item.State
	if err := item.Retry(); err != nil {
		return item, err
	}
	if err := q.repo.UpdateProcessing(ctx, from, item); err != nil {
		return item, fmt.Errorf("reset item: %w", err)
	}
	if err := q.orchestrator.ProcessItem(ctx, item); err != nil {
		return item, err
	}
	return q.repo.Get(ctx, id)
}

// Delete removes the item's audio and scratch files, then its record.
func (q *Queue) Delete(ctx context.Context, id string) error {
	if _, err := q.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := q.files.Delete(id); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	if err := q.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	q.logger.Info("item deleted", "item_id", id)
	return nil
}

// Move rewrites sort keys so items appear in the order given.
func (q *Queue) Move(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.repo.Reorder(ctx, ids, q.gap)
}

// RecoverOrphans returns every item left mid-phase by an earlier session to
// pending. It runs under the processing claim, so it returns ErrBusy instead of
// touching items while any process is working on them.
func (q *Queue) RecoverOrphans(ctx context.Context) (int, error) {
	reset := 0
	err := q.orchestrator.Exclusive(ctx, func(ctx context.Context) error {
		items, err := q.repo.ListByStates(ctx, domain.StateExtracting, domain.StateGeneratingAudio)
		if err != nil {
			return fmt.Errorf("list orphans: %w", err)
		}
		for _, item := range items {
			from := item.State
			if !item.ResetOrphan() {
				continue
			}
			if err := q.files.RemoveScratch(item.ID); err != nil {
				q.logger.Warn("remove scratch dir", "item_id", item.ID, "error", err)
			}
			err := q.repo.UpdateProcessing(ctx, from, item)
			if errors.Is(err, ports.ErrConflict) {
				continue
			}
			if err != nil {
				return fmt.Errorf("reset orphan %s: %w", item.ID, err)
			}
			q.logger.Info("orphan reset", "item_id", item.ID, "from", from)
			reset++
		}
		return nil
	})
	return reset, err
}

// ProcessPending resets orphans, then processes pending items in sort order
// until none remain or ctx ends. It returns how many items were processed.
func (q *Queue) ProcessPending(ctx context.Context) (int, error) {
	if _, err := q.RecoverOrphans(ctx); err != nil {
		return 0, err
	}
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		picked, err := q.orchestrator.RecoverNext(ctx)
		if err != nil {
			return processed, err
		}
		if !picked {
			return processed, nil
		}
		processed++
	}
}

// StartPlayback moves a playable item to playing.
func (q *Queue) StartPlayback(ctx context.Context, id string) (domain.WorkItem, error) {
	item, err := q.repo.Get(ctx, id)
	if err != nil {
		return item, err
	}
	if item.State == domain.StatePlaying {
		return item, nil
	}
	if err := item.Transition(domain.StatePlaying); err != nil {
		return item, err
	}
	now := q.now().UTC()
	item.LastPlayedAt = &now
	if err := q.repo.UpdatePlayback(ctx, item); err != nil {
		return item, fmt.Errorf("save playback: %w", err)
	}
	return item, nil
}

// SavePosition records where playback stopped and at what rate.
func (q *Queue) SavePosition(ctx context.Context, id string, position, rate float64) error {
	if position < 0 {
		return fmt.Errorf("position must not be negative")
	}
	if rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	item, err := q.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !item.State.CanPlay() {
		return fmt.Errorf("item %s has no audio (%s)", id, item.State)
	}
	if item.AudioDurationSeconds != nil && position > *item.AudioDurationSeconds {
		position = *item.AudioDurationSeconds
	}
	item.PlaybackPosition = position
	item.PlaybackRate = rate
	return q.repo.UpdatePlayback(ctx, item)
}

// FinishPlayback marks an item as listened to. With auto-delete enabled the
// item and its audio are removed; deleted reports that.
func (q *Queue) FinishPlayback(ctx context.Context, id string) (deleted bool, err error) {
	item, err := q.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if item.State == domain.StateAudioReady {
		if err := item.Transition(domain.StatePlaying); err != nil {
			return false, err
		}
	}
	if item.State != domain.StatePlayed {
		if err := item.Transition(domain.StatePlayed); err != nil {
			return false, err
		}
	}
	now := q.now().UTC()
	item.LastPlayedAt = &now
	item.HasBeenPlayed = true
	item.PlaybackPosition = 0
	if err := q.repo.UpdatePlayback(ctx, item); err != nil {
		return false, fmt.Errorf("save playback: %w", err)
	}

	auto, err := q.settings.AutoDelete(ctx)
	if err != nil {
		q.logger.Warn("read auto-delete setting", "error", err)
		return false, nil
	}
	if !auto {
		return false, nil
	}
	if err := q.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}
