package scraper

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/use-agent/tweetscope/browser"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/timeline"
)

// Collector drives the infinite-scroll timeline so the page keeps issuing
// search requests. It never reads the DOM for posts; the response listener
// fills the Seen set while it scrolls.
type Collector struct {
	maxScrolls int
	stallLimit int
	minPx      int
	maxPx      int
	minDelay   time.Duration
	maxDelay   time.Duration

	// randN returns a value in [0, n).
	randN func(n int64) int64
	sleep sleepFunc
}

// NewCollector builds a Collector from the acquisition settings.
func NewCollector(cfg config.AcquisitionConfig) *Collector {
	return &Collector{
		maxScrolls: cfg.MaxScrolls,
		stallLimit: cfg.StallLimit,
		minPx:      cfg.ScrollMinPx,
		maxPx:      cfg.ScrollMaxPx,
		minDelay:   cfg.ScrollDelayMin,
		maxDelay:   cfg.ScrollDelayMax,
		randN:      rand.Int64N,
		sleep:      sleepCtx,
	}
}

// Collect scrolls until the scroll budget is spent, maxPosts unique posts
// have been seen, or stallLimit consecutive scrolls added nothing. It
// returns the number of scrolls performed.
func (c *Collector) Collect(ctx context.Context, page browser.Page, seen *timeline.Seen, maxPosts int) (int, error) {
	stalled := 0
	scrolls := 0

	for scrolls < c.maxScrolls {
		if maxPosts > 0 && seen.Len() >= maxPosts {
			break
		}
		if err := ctx.Err(); err != nil {
			return scrolls, err
		}

		before := seen.Len()
		dy := float64(between(c.randN, int64(c.minPx), int64(c.maxPx)))
		if err := page.ScrollBy(ctx, 0, dy); err != nil {
			return scrolls, categorizeError(err, models.ErrCodeContentWaitTimeout, "scroll failed")
		}
		scrolls++

		delay := time.Duration(between(c.randN, int64(c.minDelay), int64(c.maxDelay)))
		if err := c.sleep(ctx, delay); err != nil {
			return scrolls, err
		}

		if seen.Len() > before {
			stalled = 0
			continue
		}
		stalled++
		if c.stallLimit > 0 && stalled >= c.stallLimit {
			slog.Debug("timeline stalled", "scrolls", scrolls, "posts", seen.Len())
			break
		}
	}
	return scrolls, nil
}

// between returns a uniform value in [lo, hi]. A degenerate range yields lo.
func between(randN func(int64) int64, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + randN(hi-lo+1)
}
