package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ArticlesPodcast/internal/audio"
	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/files"
	"ArticlesPodcast/internal/ports"
	"ArticlesPodcast/internal/speech"
	"ArticlesPodcast/internal/synthesis"
	"ArticlesPodcast/internal/textclean"
)

var (
	// ErrBusy is returned when another item is already being processed, in this
	// process or in another one sharing the store.
	ErrBusy = errors.New("another item is being processed")
	// ErrInterrupted is returned when the caller's context ends mid-phase. The
	// item keeps its in-progress state and is reset by orphan recovery.
	ErrInterrupted = errors.New("processing interrupted")
)

// NoTextMessage is recorded when an item reaches the audio phase without text.
const NoTextMessage = "No text content to convert"

// DefaultProgressInterval bounds how often paragraph progress is persisted.
const DefaultProgressInterval = 500 * time.Millisecond

// ProcessingLease names the store-wide claim held while items are processed
// or orphans are reset.
const ProcessingLease = "processing"

// DefaultLeaseTTL is how long a claim survives without renewal.
const DefaultLeaseTTL = 2 * time.Minute

const leaseReleaseTimeout = 5 * time.Second

var (
	// errPhaseFailed marks a failure that was recorded on the item.
	errPhaseFailed = errors.New("phase failed")
	// errSuperseded marks a write refused because the item was deleted or its
	// state changed outside the pipeline.
	errSuperseded = errors.New("item changed during processing")
	errLeaseLost  = errors.New("processing lease lost")
)

// OrchestratorDeps wires all collaborators into the orchestrator.
type OrchestratorDeps struct {
	Repository       ports.WorkItemRepository
	Extractor        ports.Extractor
	Settings         *Settings
	Engines          *speech.Registry
	Pipeline         *synthesis.Pipeline
	Assembler        *audio.Assembler
	Files            *files.Manager
	Notifier         ports.Notifier
	// Lease, when set, makes processing exclusive across processes.
	Lease            ports.Lease
	LeaseTTL         time.Duration
	ProgressInterval time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

// Orchestrator drives one item at a time through extraction and audio
// generation.
type Orchestrator struct {
	repo             ports.WorkItemRepository
	extractor        ports.Extractor
	settings         *Settings
	engines          *speech.Registry
	pipeline         *synthesis.Pipeline
	assembler        *audio.Assembler
	files            *files.Manager
	notifier         ports.Notifier
	lease            ports.Lease
	leaseTTL         time.Duration
	owner            string
	progressInterval time.Duration
	now              func() time.Time
	logger           *slog.Logger

	busy atomic.Bool
}

// NewOrchestrator constructs the processing component.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		repo:             deps.Repository,
		extractor:        deps.Extractor,
		settings:         deps.Settings,
		engines:          deps.Engines,
		pipeline:         deps.Pipeline,
		assembler:        deps.Assembler,
		files:            deps.Files,
		notifier:         deps.Notifier,
		lease:            deps.Lease,
		leaseTTL:         deps.LeaseTTL,
		owner:            uuid.NewString(),
		progressInterval: deps.ProgressInterval,
		now:              deps.Now,
		logger:           deps.Logger,
	}
	if o.progressInterval <= 0 {
		o.progressInterval = DefaultProgressInterval
	}
	if o.leaseTTL <= 0 {
		o.leaseTTL = DefaultLeaseTTL
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.settings == nil {
		o.settings = NewSettings(nil, SettingsDefaults{})
	}
	return o
}

// Busy reports whether an item is being processed right now.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Exclusive runs fn while holding the processing claim: the in-process flag
// and, when a lease store is configured, the store-wide lease. The lease is
// renewed while fn runs; if it is lost the context passed to fn is cancelled.
// ErrBusy is returned without calling fn when the claim is held elsewhere.
func (o *Orchestrator) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.busy.Store(false)

	if o.lease == nil {
		return fn(ctx)
	}
	ok, err := o.lease.Acquire(ctx, ProcessingLease, o.owner, o.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire processing lease: %w", err)
	}
	if !ok {
		return ErrBusy
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		o.renewLease(runCtx, cancel)
	}()
	defer func() {
		cancel(nil)
		<-renewed
		releaseCtx, done := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
		defer done()
		if err := o.lease.Release(releaseCtx, ProcessingLease, o.owner); err != nil {
			o.logger.Warn("release processing lease", "error", err)
		}
	}()

	err = fn(runCtx)
	if errors.Is(context.Cause(runCtx), errLeaseLost) {
		o.logger.Error("processing lease lost", "owner", o.owner)
	}
	return err
}

func (o *Orchestrator) renewLease(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(o.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := o.lease.Acquire(ctx, ProcessingLease, o.owner, o.leaseTTL)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			o.logger.Warn("renew processing lease", "error", err)
		case !ok:
			cancel(errLeaseLost)
			return
		}
	}
}

// ProcessItem runs the extraction phase and, if it succeeds, the audio phase.
// The stored record is re-read once the claim is held; items that are gone or
// neither pending nor retryable are ignored. Phase failures are recorded on
// the item and do not produce an error; ErrBusy, ErrInterrupted and
// persistence errors do.
func (o *Orchestrator) ProcessItem(ctx context.Context, item domain.WorkItem) error {
	return o.Exclusive(ctx, func(ctx context.Context) error {
		return o.process(ctx, item.ID)
	})
}

// RecoverNext processes the oldest pending item, if any. It reports whether an
// item was picked up.
func (o *Orchestrator) RecoverNext(ctx context.Context) (bool, error) {
	picked := false
	err := o.Exclusive(ctx, func(ctx context.Context) error {
		item, err := o.repo.OldestPending(ctx)
		if errors.Is(err, ports.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load pending item: %w", err)
		}
		picked = true
		return o.process(ctx, item.ID)
	})
	return picked, err
}

func (o *Orchestrator) process(ctx context.Context, id string) error {
	item, err := o.repo.Get(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		o.logger.Debug("skip deleted item", "item_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item.State != domain.StatePending && !item.State.CanRetry() {
		o.logger.Debug("skip item", "item_id", item.ID, "state", item.State)
		return nil
	}

	err = o.extract(ctx, &item)
	if err == nil {
		err = o.generate(ctx, &item)
	}
	switch {
	case errors.Is(err, errSuperseded):
		o.abandon(ctx, item)
		return nil
	case errors.Is(err, errPhaseFailed):
	case err != nil:
		return err
	}
	o.publish(ctx, item)
	return nil
}

// abandon drops the work done on an item that was changed elsewhere. Audio
// written for a deleted item is removed.
func (o *Orchestrator) abandon(ctx context.Context, item domain.WorkItem) {
	_, err := o.repo.Get(ctx, item.ID)
	if !errors.Is(err, ports.ErrNotFound) {
		o.logger.Warn("item changed during processing, result dropped", "item_id", item.ID, "error", err)
		return
	}
	if err := o.files.Delete(item.ID); err != nil {
		o.logger.Warn("remove files of deleted item", "item_id", item.ID, "error", err)
	}
	o.logger.Info("item deleted during processing", "item_id", item.ID)
}

func (o *Orchestrator) extract(ctx context.Context, item *domain.WorkItem) error {
	if err := o.transition(ctx, item, domain.StateExtracting); err != nil {
		return err
	}

	var res ports.Extraction
	err := guard("extraction", func() error {
		var err error
		res, err = o.extractor.Extract(ctx, item.URL)
		return err
	})
	if err != nil {
		return o.fail(ctx, item, domain.StateExtractionFailed, err)
	}

	if res.Title != "" {
		item.Title = res.Title
	}
	item.Author = domain.StringPtr(res.Author)
	item.Excerpt = domain.StringPtr(res.Excerpt)
	item.ExtractedText = domain.StringPtr(res.Text)
	words := textclean.WordCount(res.Text)
	item.WordCount = &words
	now := o.now().UTC()
	item.ExtractedAt = &now
	item.ErrorMessage = nil

	return o.transition(ctx, item, domain.StateExtracted)
}

func (o *Orchestrator) generate(ctx context.Context, item *domain.WorkItem) error {
	if item.ExtractedText == nil || strings.TrimSpace(*item.ExtractedText) == "" {
		return o.fail(ctx, item, domain.StateAudioGenerationFailed, errors.New(NoTextMessage))
	}

	paragraphs := textclean.SplitParagraphs(*item.ExtractedText)
	item.SetProgress(0, len(paragraphs))
	if err := o.transition(ctx, item, domain.StateGeneratingAudio); err != nil {
		return err
	}
	defer func() {
		if err := o.files.RemoveScratch(item.ID); err != nil {
			o.logger.Warn("remove scratch dir", "item_id", item.ID, "error", err)
		}
	}()

	setting, voiceID, err := o.settings.Speech(ctx)
	if err != nil {
		o.logger.Warn("read speech settings, using defaults", "item_id", item.ID, "error", err)
	}
	engine := o.engines.Resolve(setting)
	o.logger.Info("generating audio", "item_id", item.ID, "engine", engine.Kind(), "voice", voiceID, "total", len(paragraphs))

	progress := make(chan synthesis.Progress, len(paragraphs)+1)
	persisted := o.persistProgress(ctx, progress)

	var units []audio.Unit
	err = guard("synthesis", func() error {
		var err error
		units, err = o.pipeline.Run(ctx, item.ID, paragraphs, engine, voiceID, progress)
		return err
	})
	close(progress)
	if last, ok := <-persisted; ok {
		item.SetProgress(last.Processed, last.Total)
	}
	if err != nil {
		return o.fail(ctx, item, domain.StateAudioGenerationFailed, err)
	}

	var assembly audio.Assembly
	err = guard("assembly", func() error {
		var err error
		assembly, err = o.assembler.Concatenate(ctx, units, o.files.AudioPath(item.ID))
		return err
	})
	if err != nil {
		return o.fail(ctx, item, domain.StateAudioGenerationFailed, err)
	}

	item.AudioFilePath = domain.StringPtr(o.files.AudioFileName(item.ID))
	duration := assembly.DurationSeconds
	item.AudioDurationSeconds = &duration
	now := o.now().UTC()
	item.AudioGeneratedAt = &now
	item.ErrorMessage = nil
	item.TotalParagraphs = nil
	item.ProcessedParagraphs = nil

	return o.transition(ctx, item, domain.StateAudioReady)
}

// persistProgress consumes progress updates until the channel is closed,
// writing at most one per interval plus the final one. Write failures are
// logged only. The returned channel yields the last update seen.
func (o *Orchestrator) persistProgress(ctx context.Context, progress <-chan synthesis.Progress) <-chan synthesis.Progress {
	out := make(chan synthesis.Progress, 1)
	limiter := rate.NewLimiter(rate.Every(o.progressInterval), 1)

	go func() {
		defer close(out)
		var last, written synthesis.Progress
		seen := false
		for p := range progress {
			last, seen = p, true
			if !limiter.Allow() {
				continue
			}
			o.writeProgress(ctx, p)
			written = p
		}
		if !seen {
			return
		}
		if last != written {
			o.writeProgress(ctx, last)
		}
		out <- last
	}()

	return out
}

func (o *Orchestrator) writeProgress(ctx context.Context, p synthesis.Progress) {
	if ctx.Err() != nil {
		return
	}
	if err := o.repo.UpdateProgress(ctx, p.ItemID, p.Processed, p.Total); err != nil {
		o.logger.Debug("persist progress", "item_id", p.ItemID, "error", err)
		return
	}
	o.logger.Debug("progress", "item_id", p.ItemID, "paragraph", p.Processed, "total", p.Total)
}

func (o *Orchestrator) transition(ctx context.Context, item *domain.WorkItem, to domain.State) error {
	from := item.State
	if err := item.Transition(to); err != nil {
		return err
	}
	if err := o.repo.UpdateProcessing(ctx, from, *item); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return fmt.Errorf("%w: %w", errSuperseded, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		return fmt.Errorf("persist %s: %w", to, err)
	}
	o.logger.Info("state changed", "item_id", item.ID, "from", from, "state", to)
	return nil
}

// fail records err on the item unless the caller's context has ended, in which
// case the persisted state is left as it is.
func (o *Orchestrator) fail(ctx context.Context, item *domain.WorkItem, to domain.State, cause error) error {
	if ctx.Err() != nil {
		o.logger.Warn("phase interrupted", "item_id", item.ID, "state", item.State, "error", cause)
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	if to == domain.StateAudioGenerationFailed {
		item.TotalParagraphs = nil
		item.ProcessedParagraphs = nil
	}
	from := item.State
	if err := item.Fail(to, cause.Error()); err != nil {
		return err
	}
	if err := o.repo.UpdateProcessing(ctx, from, *item); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return fmt.Errorf("%w: %w", errSuperseded, err)
		}
		return fmt.Errorf("persist %s: %w", to, err)
	}
	o.logger.Error("phase failed", "item_id", item.ID, "state", to, "retry_count", item.RetryCount, "error", cause)
	return errPhaseFailed
}

func (o *Orchestrator) publish(ctx context.Context, item domain.WorkItem) {
	if o.notifier == nil || ctx.Err() != nil {
		return
	}
	if err := o.notifier.PublishStatus(ctx, item); err != nil {
		o.logger.Warn("publish status", "item_id", item.ID, "error", err)
	}
}

// guard runs fn and turns a panic into an error.
func guard(phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", phase, r)
		}
	}()
	return fn()
}
