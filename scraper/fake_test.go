package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/use-agent/tweetscope/browser"
	"github.com/use-agent/tweetscope/config"
)

// timelineBody renders a SearchTimeline payload holding n posts with
// consecutive ids starting at first.
func timelineBody(first, n int) []byte {
	entries := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := first + i
		entries = append(entries, fmt.Sprintf(`{"entryId": "tweet-%d", "content": {"entryType": "TimelineTimelineItem",
			"itemContent": {"itemType": "TimelineTweet", "tweet_results": {"result": {
				"__typename": "Tweet", "rest_id": "%d",
				"core": {"user_results": {"result": {"legacy": {"screen_name": "user%d", "name": "User"}}}},
				"legacy": {"full_text": "post number %d", "created_at": "Wed Oct 15 20:19:24 +0000 2025",
					"favorite_count": %d, "reply_count": 1, "retweet_count": 0, "quote_count": 0, "lang": "en"}
			}}}}}`, id, id, id, id, i))
	}
	return []byte(`{"data": {"search_by_raw_query": {"search_timeline": {"timeline": {"instructions": [
		{"type": "TimelineAddEntries", "entries": [` + strings.Join(entries, ",") + `]}]}}}}}`)
}

// fakeScript describes how the fake platform answers one query. bodies[0]
// is delivered on navigation, bodies[k] on the k-th scroll.
type fakeScript struct {
	bodies  [][]byte
	navErr  error
	waitErr error
	html    string
}

type fakeBrowser struct {
	mu       sync.Mutex
	scripts  map[string]*fakeScript
	openErr  error
	sessions int
	pages    int
	closed   int
	resets   int
	navs     map[string]int
}

func newFakeBrowser(scripts map[string]*fakeScript) *fakeBrowser {
	return &fakeBrowser{scripts: scripts, navs: make(map[string]int)}
}

func (b *fakeBrowser) OpenSession(ctx context.Context, token string) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.sessions++
	return &fakeSession{b: b}, nil
}

func (b *fakeBrowser) Reset() error {
	b.mu.Lock()
	b.resets++
	b.mu.Unlock()
	return nil
}

func (b *fakeBrowser) Close() error { return nil }

func (b *fakeBrowser) navCount(query string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.navs[query]
}

type fakeSession struct{ b *fakeBrowser }

func (s *fakeSession) NewPage(ctx context.Context) (browser.Page, error) {
	s.b.mu.Lock()
	s.b.pages++
	s.b.mu.Unlock()
	return &fakePage{b: s.b}, nil
}

func (s *fakeSession) Close() error { return nil }

type fakePage struct {
	b       *fakeBrowser
	script  *fakeScript
	match   browser.MatchFunc
	handle  func(browser.Response)
	stopped bool
	scrolls int
	dys     []float64
}

const fakeSearchURL = "https://x.com/i/api/graphql/abc/SearchTimeline"

func (p *fakePage) emit(step int) {
	if p.script == nil || p.stopped || p.handle == nil || step >= len(p.script.bodies) {
		return
	}
	if p.match(fakeSearchURL, 200) {
		p.handle(browser.Response{URL: fakeSearchURL, Status: 200, Body: p.script.bodies[step]})
	}
}

func (p *fakePage) OnResponse(match browser.MatchFunc, handle func(browser.Response)) func() {
	p.match, p.handle = match, handle
	return func() { p.stopped = true }
}

func (p *fakePage) Navigate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	q := u.Query().Get("q")

	p.b.mu.Lock()
	p.b.navs[q]++
	p.script = p.b.scripts[q]
	p.b.mu.Unlock()

	if p.script == nil {
		return fmt.Errorf("no script for %q", q)
	}
	if p.script.navErr != nil {
		return p.script.navErr
	}
	p.emit(0)
	return nil
}

func (p *fakePage) WaitContent(ctx context.Context, selector string) error {
	return p.script.waitErr
}

func (p *fakePage) ScrollBy(ctx context.Context, dx, dy float64) error {
	p.scrolls++
	p.dys = append(p.dys, dy)
	p.emit(p.scrolls)
	return nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return p.script.html, nil
}

func (p *fakePage) Close() error {
	p.b.mu.Lock()
	p.b.closed++
	p.b.mu.Unlock()
	return nil
}

// sleepRecorder records requested delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// backoff wraps a retry policy so its delays are recorded and not waited.
func (r *sleepRecorder) backoff(next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		r.mu.Lock()
		r.delays = append(r.delays, d)
		r.mu.Unlock()
		return 0, false
	})
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testAcquisitionConfig() config.AcquisitionConfig {
	return config.AcquisitionConfig{
		MaxPostsPerQuery:   50,
		MaxScrolls:         15,
		StallLimit:         4,
		ScrollMinPx:        400,
		ScrollMaxPx:        1200,
		ScrollDelayMin:     800 * time.Millisecond,
		ScrollDelayMax:     2 * time.Second,
		NavigationTimeout:  time.Second,
		ContentWaitTimeout: time.Second,
		MaxAttempts:        3,
		BaseBackoff:        time.Second,
		QueryDelayMin:      3 * time.Second,
		QueryDelayMax:      8 * time.Second,
	}
}

// newTestAcquirer returns an Acquirer whose sleeps are recorded, not slept.
func newTestAcquirer(b *fakeBrowser, cfg config.AcquisitionConfig) (a *Acquirer, backoff, pacing *sleepRecorder) {
	backoff, pacing = &sleepRecorder{}, &sleepRecorder{}
	a = NewAcquirer(b, config.PlatformConfig{AuthToken: "tok", BaseURL: "https://x.com", SearchMode: "live"}, cfg)
	a.sleep = pacing.sleep
	a.retrier.wrap = backoff.backoff
	a.collector.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return a, backoff, pacing
}
