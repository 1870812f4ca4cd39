package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"ArticlesPodcast/internal/ports"
)

// DefaultExpression runs every fifteen minutes.
const DefaultExpression = "*/15 * * * *"

// CronScheduler fires a job on the ticks of a cron expression. Ticks that come
// due while the job is still running are skipped.
type CronScheduler struct {
	expr  string
	now   func() time.Time
	mu    sync.Mutex
	stop  chan struct{}
	done  chan struct{}
	first bool
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
// When runAtStart is set the job also runs once right after Start.
func NewCronScheduler(expr string, runAtStart bool) (*CronScheduler, error) {
	if expr == "" {
		expr = DefaultExpression
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	return &CronScheduler{expr: expr, now: time.Now, first: runAtStart}, nil
}

// Next returns the first tick strictly after ref.
func (c *CronScheduler) Next(ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(c.expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick of %q: %w", c.expr, err)
	}
	return next, nil
}

// Start begins ticking in a background goroutine.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}
	if _, err := c.Next(c.now()); err != nil {
		return err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done

	go func() {
		defer close(done)
		if c.first {
			job(c.now())
		}
		for {
			next, err := c.Next(c.now())
			if err != nil {
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case t := <-timer.C:
				job(t)
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for a running job to return or ctx
// to expire.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
