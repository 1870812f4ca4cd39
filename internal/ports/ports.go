package ports

import (
	"context"
	"errors"
	"time"

	"ArticlesPodcast/internal/domain"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write finds the record gone or
// already changed by someone else.
var ErrConflict = errors.New("conflict")

// Extraction is the readable content pulled from an article page.
type Extraction struct {
	Title   string
	Author  string
	Excerpt string
	Text    string
}

// Extractor fetches a URL and returns its readable text.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (Extraction, error)
}

// WorkItemRepository persists work items.
type WorkItemRepository interface {
	// Create stores a new item with its sort order set to the current maximum
	// plus gap.
	Create(ctx context.Context, item *domain.WorkItem, gap int) error
	Get(ctx context.Context, id string) (domain.WorkItem, error)
	// UpdateProcessing writes the fields owned by the processing phases and
	// the state, provided the stored state is still from. It returns
	// ErrConflict otherwise.
	UpdateProcessing(ctx context.Context, from domain.State, item domain.WorkItem) error
	// UpdatePlayback writes the state and playback fields only.
	UpdatePlayback(ctx context.Context, item domain.WorkItem) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.WorkItem, error)
	ListByStates(ctx context.Context, states ...domain.State) ([]domain.WorkItem, error)
	// OldestPending returns the pending item with the lowest sort order.
	OldestPending(ctx context.Context) (domain.WorkItem, error)
	UpdateProgress(ctx context.Context, id string, processed, total int) error
	Reorder(ctx context.Context, ids []string, gap int) error
}

// SettingsStore keeps user-facing key/value settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Lease is a named, expiring claim shared by every process using the same
// store.
type Lease interface {
	// Acquire takes or renews name for owner. It reports false when another
	// owner holds an unexpired claim.
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// Notifier publishes item status to an outside channel.
type Notifier interface {
	PublishStatus(ctx context.Context, item domain.WorkItem) error
}

// Scheduler controls when background jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
