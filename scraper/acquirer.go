// Package scraper runs acquisition: one authenticated browser session per
// run, queries in sequence, and per query a bounded series of attempts that
// each navigate to the search page, listen for timeline payloads and
// scroll until the collection budget is spent.
package scraper

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/tweetscope/browser"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/timeline"
)

// resultSelector matches one rendered post on the search page.
const resultSelector = `article[data-testid="tweet"]`

// Acquirer runs acquisition queries against the platform. A single
// Acquirer is shared by every run; the task manager guarantees that at
// most one Run is in flight.
type Acquirer struct {
	browser   browser.Browser
	platform  config.PlatformConfig
	cfg       config.AcquisitionConfig
	collector *Collector
	retrier   *Retrier

	randN func(n int64) int64
	sleep sleepFunc

	attempts  atomic.Int64
	collected atomic.Int64
}

// NewAcquirer wires the collector and retry controller from config.
func NewAcquirer(b browser.Browser, platform config.PlatformConfig, cfg config.AcquisitionConfig) *Acquirer {
	return &Acquirer{
		browser:   b,
		platform:  platform,
		cfg:       cfg,
		collector: NewCollector(cfg),
		retrier:   NewRetrier(cfg.MaxAttempts, cfg.BaseBackoff),
		randN:     rand.Int64N,
		sleep:     sleepCtx,
	}
}

// Counters returns the lifetime number of attempts made and posts
// collected by this Acquirer.
func (a *Acquirer) Counters() (attempts, collected int64) {
	return a.attempts.Load(), a.collected.Load()
}

// Run executes queries in order inside one session and returns one result
// per query started. The error is non-nil only for failures that affect the
// whole run: the session could not be opened or ctx was cancelled.
func (a *Acquirer) Run(ctx context.Context, queries []string) ([]models.QueryResult, error) {
	// ── 1. Session ────────────────────────────────────────────────────
	session, err := a.browser.OpenSession(ctx, a.platform.AuthToken)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeLaunch, "failed to open browser session")
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("session close failed", "error", err)
		}
	}()

	results := make([]models.QueryResult, 0, len(queries))
	for i, query := range queries {
		// ── 2. Inter-query pacing ─────────────────────────────────────
		if i > 0 {
			delay := time.Duration(between(a.randN, int64(a.cfg.QueryDelayMin), int64(a.cfg.QueryDelayMax)))
			slog.Debug("pacing before next query", "query", query, "delay", delay)
			if err := a.sleep(ctx, delay); err != nil {
				return results, categorizeError(err, models.ErrCodeStuckRun, "acquisition interrupted")
			}
		}

		// ── 3. Bounded attempts ───────────────────────────────────────
		res := a.retrier.Do(ctx, query, func(ctx context.Context, n int) ([]models.Post, error) {
			a.attempts.Add(1)
			return a.attempt(ctx, session, query)
		})
		a.collected.Add(int64(res.Collected))
		results = append(results, res)

		if err := ctx.Err(); err != nil {
			return results, categorizeError(err, models.ErrCodeStuckRun, "acquisition interrupted")
		}
	}
	return results, nil
}

// attempt is one page lifetime for one query.
//
// The listener is installed before navigation: the first page of results
// arrives with the initial load and would otherwise be missed.
func (a *Acquirer) attempt(ctx context.Context, session browser.Session, query string) ([]models.Post, error) {
	// ── 1. Page ───────────────────────────────────────────────────────
	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeLaunch, "failed to open page")
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.Debug("page close failed", "error", err)
		}
	}()

	// ── 2. Response listener ──────────────────────────────────────────
	seen := timeline.NewSeen()
	var (
		parseMu       sync.Mutex
		parseFailures int
		lastParseErr  error
	)
	stop := page.OnResponse(timeline.IsSearchTimeline, func(r browser.Response) {
		posts, errs := timeline.Parse(r.Body, query)
		parseMu.Lock()
		for _, perr := range errs {
			parseFailures++
			lastParseErr = perr
			slog.Debug("timeline entry skipped", "query", query, "error", perr)
		}
		parseMu.Unlock()
		added := seen.Add(posts...)
		slog.Debug("timeline payload", "query", query, "posts", len(posts), "new", added)
	})
	defer stop()

	// ── 3. Navigate ───────────────────────────────────────────────────
	navCtx, cancelNav := context.WithTimeout(ctx, a.cfg.NavigationTimeout)
	err = page.Navigate(navCtx, a.searchURL(query))
	cancelNav()
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeNavigationTimeout, "navigation to search page failed")
	}

	// ── 4. Wait for the first rendered result ─────────────────────────
	waitCtx, cancelWait := context.WithTimeout(ctx, a.cfg.ContentWaitTimeout)
	err = page.WaitContent(waitCtx, resultSelector)
	cancelWait()
	if err != nil && seen.Len() == 0 {
		html, htmlErr := page.HTML(ctx)
		if htmlErr != nil {
			return nil, categorizeError(err, models.ErrCodeContentWaitTimeout, "no search results rendered")
		}
		return nil, diagnose(html, err)
	}

	// ── 5. Scroll ─────────────────────────────────────────────────────
	scrolls, err := a.collector.Collect(ctx, page, seen, a.cfg.MaxPostsPerQuery)
	if err != nil && seen.Len() == 0 {
		return nil, err
	}
	if err != nil {
		slog.Warn("scrolling stopped early, keeping partial results",
			"query", query, "posts", seen.Len(), "error", err)
	}

	// ── 6. Drain in-flight payloads and collect ───────────────────────
	stop()
	posts := seen.Posts(a.cfg.MaxPostsPerQuery)
	parseMu.Lock()
	skipped, perr := parseFailures, lastParseErr
	parseMu.Unlock()
	slog.Debug("attempt finished",
		"query", query, "scrolls", scrolls, "posts", len(posts), "skippedEntries", skipped)

	if len(posts) == 0 {
		if perr != nil {
			return nil, perr
		}
		return nil, models.NewScrapeError(models.ErrCodeEmptyResults, "no posts intercepted", nil)
	}
	return posts, nil
}

// searchURL builds the search page address for query.
func (a *Acquirer) searchURL(query string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("src", "typed_query")
	if a.platform.SearchMode == "live" {
		v.Set("f", "live")
	}
	return a.platform.BaseURL + "/search?" + v.Encode()
}
