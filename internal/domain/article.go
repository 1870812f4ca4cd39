package domain

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// SortGap is the distance between sort keys of neighbouring items.
const SortGap = 100

// WorkItem is one article's processing record.
type WorkItem struct {
	ID      string
	URL     string
	Domain  string
	Title   string
	Author  *string
	Excerpt *string

	ExtractedText *string
	WordCount     *int

	AudioFilePath        *string
	AudioDurationSeconds *float64

	State        State
	ErrorMessage *string
	RetryCount   int

	// Valid only while State == StateGeneratingAudio.
	TotalParagraphs     *int
	ProcessedParagraphs *int

	SortOrder int

	CreatedAt        time.Time
	ExtractedAt      *time.Time
	AudioGeneratedAt *time.Time
	LastPlayedAt     *time.Time

	// Playback bookkeeping, owned by the playback surface.
	PlaybackPosition float64
	PlaybackRate     float64
	HasBeenPlayed    bool
}

// NewWorkItem builds a pending item for the given URL.
func NewWorkItem(rawURL, title string, sortOrder int, now time.Time) *WorkItem {
	if title == "" {
		title = rawURL
	}
	return &WorkItem{
		ID:           uuid.NewString(),
		URL:          rawURL,
		Domain:       HostOf(rawURL),
		Title:        title,
		State:        StatePending,
		PlaybackRate: 1.0,
		SortOrder:    sortOrder,
		CreatedAt:    now.UTC(),
	}
}

// HostOf returns the host part of rawURL or an empty string.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// GenerationProgress reports processed/total paragraphs in [0,1].
func (w *WorkItem) GenerationProgress() float64 {
	if w.TotalParagraphs == nil || *w.TotalParagraphs <= 0 || w.ProcessedParagraphs == nil {
		return 0
	}
	return float64(*w.ProcessedParagraphs) / float64(*w.TotalParagraphs)
}

// SetProgress records paragraph progress, clamping processed to total.
func (w *WorkItem) SetProgress(processed, total int) {
	if processed > total {
		processed = total
	}
	if processed < 0 {
		processed = 0
	}
	w.TotalParagraphs = &total
	w.ProcessedParagraphs = &processed
}

// Fail records a phase failure and bumps the retry counter.
func (w *WorkItem) Fail(to State, msg string) error {
	if err := w.Transition(to); err != nil {
		return err
	}
	w.ErrorMessage = &msg
	w.RetryCount++
	return nil
}

// Retry moves a failed item back to pending for a fresh run.
func (w *WorkItem) Retry() error {
	if !w.State.CanRetry() {
		return &TransitionError{From: w.State, To: StatePending}
	}
	w.State = StatePending
	w.ErrorMessage = nil
	w.clearProgress()
	return nil
}

// ResetOrphan returns an item left in an in-progress state by an interrupted run
// to pending. It reports whether anything changed.
func (w *WorkItem) ResetOrphan() bool {
	if !w.State.IsProcessing() {
		return false
	}
	w.State = StatePending
	w.ErrorMessage = nil
	w.clearProgress()
	return true
}

func (w *WorkItem) clearProgress() {
	w.TotalParagraphs = nil
	w.ProcessedParagraphs = nil
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
