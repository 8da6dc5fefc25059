package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/use-agent/tweetscope/models"
)

// categorizeError wraps raw browser errors into typed ScrapeErrors so the
// task record and the API can report a stable code. Errors that already
// carry a code pass through unchanged.
func categorizeError(err error, timeoutCode, msg string) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(timeoutCode, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(timeoutCode, "acquisition canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
