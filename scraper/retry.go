package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/use-agent/tweetscope/models"
)

// AttemptFunc performs attempt n (1-based) of one query.
type AttemptFunc func(ctx context.Context, n int) ([]models.Post, error)

// Retrier bounds the attempts of one query and backs off exponentially
// between them.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	// wrap decorates the backoff policy of each Do call.
	wrap func(retry.Backoff) retry.Backoff
}

// NewRetrier returns a Retrier making at most maxAttempts attempts.
func NewRetrier(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Millisecond
	}
	return &Retrier{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// policy yields baseDelay × 2^(n-1) after failed attempt n and stops once
// maxAttempts attempts have been made.
func (r *Retrier) policy() retry.Backoff {
	b := retry.WithMaxRetries(uint64(r.maxAttempts-1), retry.NewExponential(r.baseDelay))
	if r.wrap != nil {
		b = r.wrap(b)
	}
	return b
}

// Do runs attempt until it yields at least one post or the ceiling is
// reached. An attempt that returns no posts and no error counts as failed.
func (r *Retrier) Do(ctx context.Context, query string, attempt AttemptFunc) models.QueryResult {
	start := time.Now()
	res := models.QueryResult{Query: query, Status: models.QueryFailed}

	var lastErr error
	_ = retry.Do(ctx, r.policy(), func(ctx context.Context) error {
		res.Attempts++
		n := res.Attempts

		posts, err := attempt(ctx, n)
		if err == nil && len(posts) == 0 {
			err = models.NewScrapeError(models.ErrCodeEmptyResults, "no posts collected", nil)
		}
		if err == nil {
			res.Status = models.QuerySuccess
			res.Collected = len(posts)
			res.Posts = posts
			slog.Info("query collected", "query", query, "attempt", n, "posts", len(posts))
			return nil
		}

		lastErr = err
		slog.Warn("query attempt failed",
			"query", query,
			"attempt", n,
			"maxAttempts", r.maxAttempts,
			"code", models.CodeOf(err),
			"error", err,
		)
		return retry.RetryableError(err)
	})

	res.DurationMs = time.Since(start).Milliseconds()
	if res.Status == models.QuerySuccess {
		return res
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	res.Error = models.NewScrapeError(
		models.ErrCodeQueryExhausted,
		fmt.Sprintf("query %q failed after %d attempts", query, res.Attempts),
		lastErr,
	).Error()
	return res
}
