// Package browser owns the shared Chromium process and hands out isolated,
// authenticated sessions. The Browser/Session/Page interfaces are the only
// surface the acquisition engine sees, so tests can drive it with fakes.
package browser

import (
	"context"
)

// Browser starts the underlying process lazily and opens sessions on it.
type Browser interface {
	// OpenSession creates an isolated context carrying token as the
	// platform session credential.
	OpenSession(ctx context.Context, token string) (Session, error)

	// Reset tears the process down; the next OpenSession relaunches it.
	Reset() error

	// Close releases the process for good.
	Close() error
}

// Session is one isolated, authenticated browsing context.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Response is an observed network response with its body.
type Response struct {
	URL    string
	Status int
	Body   []byte
}

// MatchFunc selects responses by URL and status before their body is read.
type MatchFunc func(url string, status int) bool

// Page is the narrow capability set the collector needs.
type Page interface {
	// OnResponse calls handle for every matching response until stop is
	// called. handle may be invoked from several goroutines.
	OnResponse(match MatchFunc, handle func(Response)) (stop func())

	Navigate(ctx context.Context, url string) error

	// WaitContent blocks until selector is present or ctx is done.
	WaitContent(ctx context.Context, selector string) error

	ScrollBy(ctx context.Context, dx, dy float64) error

	HTML(ctx context.Context) (string, error)

	Close() error
}
