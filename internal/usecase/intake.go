package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/extractor"
	"ArticlesPodcast/internal/ports"
)

var sharedURLExpr = regexp.MustCompile(`https?://\S+`)

// Intake adds new articles to the queue.
type Intake struct {
	repo   ports.WorkItemRepository
	gap    int
	now    func() time.Time
	logger *slog.Logger
}

func NewIntake(repo ports.WorkItemRepository, gap int, logger *slog.Logger) *Intake {
	if gap <= 0 {
		gap = domain.SortGap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{repo: repo, gap: gap, now: time.Now, logger: logger}
}

// Add queues rawURL as a pending item placed after every existing item.
func (in *Intake) Add(ctx context.Context, rawURL, title string) (domain.WorkItem, error) {
	u, err := extractor.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return domain.WorkItem{}, err
	}
	item := domain.NewWorkItem(u.String(), strings.TrimSpace(title), 0, in.now())
	if err := in.repo.Create(ctx, item, in.gap); err != nil {
		return domain.WorkItem{}, fmt.Errorf("create item: %w", err)
	}
	in.logger.Info("item added", "item_id", item.ID, "url", item.URL, "sort_order", item.SortOrder)
	return *item, nil
}

// Share queues the first URL found in a share-sheet payload. Text around the
// URL becomes the title; without any, the URL host is used.
func (in *Intake) Share(ctx context.Context, payload string) (domain.WorkItem, error) {
	payload = strings.TrimSpace(payload)
	loc := sharedURLExpr.FindStringIndex(payload)
	if loc == nil {
		return domain.WorkItem{}, fmt.Errorf("%w: no link in shared text", extractor.ErrInvalidURL)
	}
	rawURL := strings.TrimRight(payload[loc[0]:loc[1]], ".,;:!?)\"'")
	// Punctuation trimmed off the link stays part of the surrounding text.
	end := loc[0] + len(rawURL)
	title := strings.Join(strings.Fields(payload[:loc[0]]+" "+payload[end:]), " ")
	if title == "" {
		title = domain.HostOf(rawURL)
	}
	return in.Add(ctx, rawURL, title)
}
