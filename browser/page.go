package browser

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// bodyGrace bounds how long stop waits for response bodies already
// being fetched when the listener is torn down.
const bodyGrace = 5 * time.Second

// rodPage adapts a *rod.Page to the Page interface.
type rodPage struct {
	page    *rod.Page
	profile Profile

	mouseOnce sync.Once
}

// OnResponse listens on the Network domain. Matching is decided on
// responseReceived; the body is only fetched after loadingFinished, since
// asking earlier races the transfer.
//
// NOTE: this deliberately avoids HijackRequests. The Fetch domain it uses
// conflicts with Network response events on recent Chromium builds.
func (p *rodPage) OnResponse(match MatchFunc, handle func(Response)) (stop func()) {
	evCtx, cancelEvents := context.WithCancel(context.Background())
	bodyCtx, cancelBodies := context.WithCancel(context.Background())

	var (
		mu      sync.Mutex
		pending = make(map[proto.NetworkRequestID]Response)
		wg      sync.WaitGroup
	)

	wait := p.page.Context(evCtx).EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil || !match(e.Response.URL, e.Response.Status) {
				return
			}
			mu.Lock()
			pending[e.RequestID] = Response{URL: e.Response.URL, Status: e.Response.Status}
			mu.Unlock()
		},
		func(e *proto.NetworkLoadingFinished) {
			mu.Lock()
			resp, ok := pending[e.RequestID]
			delete(pending, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}

			// Event handlers run on rod's event loop; a CDP call here would
			// stall every other event on the page.
			wg.Add(1)
			go func(id proto.NetworkRequestID) {
				defer wg.Done()
				body, err := p.responseBody(bodyCtx, id)
				if err != nil {
					slog.Debug("response body unavailable", "url", resp.URL, "error", err)
					return
				}
				resp.Body = body
				handle(resp)
			}(e.RequestID)
		},
		func(e *proto.NetworkLoadingFailed) {
			mu.Lock()
			delete(pending, e.RequestID)
			mu.Unlock()
		},
	)
	go wait()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelEvents()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(bodyGrace):
				slog.Warn("response bodies still in flight at listener stop")
			}
			cancelBodies()
		})
	}
}

func (p *rodPage) responseBody(ctx context.Context, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

func (p *rodPage) WaitContent(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

// ScrollBy dispatches mouse wheel events, which is what the timeline's
// infinite scroll observer reacts to. The pointer is parked in the
// middle of the viewport first so the wheel lands on the timeline column.
func (p *rodPage) ScrollBy(ctx context.Context, dx, dy float64) error {
	pg := p.page.Context(ctx)

	var moveErr error
	p.mouseOnce.Do(func() {
		moveErr = pg.Mouse.MoveTo(proto.Point{
			X: float64(p.profile.Width) / 2,
			Y: float64(p.profile.Height) / 2,
		})
	})
	if moveErr != nil {
		slog.Debug("mouse park failed", "error", moveErr)
	}

	steps := 4 + int(dy)/300
	return pg.Mouse.Scroll(dx, dy, steps)
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
