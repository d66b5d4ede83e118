// Package session defines the automation session a worker wraps and a
// headless implementation of it built on net/http and goquery.
//
// A Session is stateful: it holds the current page, cookies and any form
// values filled since the last navigation. Sessions are not safe for use
// by two tasks at once; the worker pool guarantees exclusive use.
package session

import (
	"context"
	"errors"
)

// ErrNotInitialized is returned by page operations on a session whose
// Initialize has not run (or which has been cleaned up).
var ErrNotInitialized = errors.New("session: not initialized")

// ErrNoPage is returned when an operation needs a loaded page.
var ErrNoPage = errors.New("session: no page loaded")

// ErrNoExtractor is returned by Extract when no extraction capability
// has been configured for the session.
var ErrNoExtractor = errors.New("session: no extractor configured")

// Session is the execution surface a task drives.
type Session interface {
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error

	Navigate(ctx context.Context, rawURL string) error
	WaitForSelector(ctx context.Context, selector string) error
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Snapshot(ctx context.Context, filename string) (string, error)
	CurrentURL() string
}

// Extractor turns a page into structured data following a natural
// language prompt. It is the language-model capability; implementations
// live outside this repository.
type Extractor interface {
	Extract(ctx context.Context, html, prompt, format string) (any, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, html, prompt, format string) (any, error)

func (f ExtractorFunc) Extract(ctx context.Context, html, prompt, format string) (any, error) {
	return f(ctx, html, prompt, format)
}

// Extracting is implemented by sessions that can run an Extractor
// against their current page.
type Extracting interface {
	Extract(ctx context.Context, prompt, format string) (any, error)
}

// Factory builds the session for the worker with the given name.
type Factory func(name string) Session
