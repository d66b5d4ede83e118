// Package sessiontest provides an in-memory Session for tests.
package sessiontest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kru5ty7/browser-agent-project/pkg/session"
)

// Fake records calls and serves canned pages keyed by URL.
// Set InitErr or CleanupErr before handing it to a pool to simulate
// start-up or teardown failures.
type Fake struct {
	Name       string
	InitErr    error
	CleanupErr error
	Pages      map[string]string

	mu          sync.Mutex
	initialized bool
	current     string
	visited     []string

	// InUse counts concurrent page operations; Overlaps is incremented
	// whenever two tasks drive the session at once.
	InUse    atomic.Int32
	Overlaps atomic.Int32
	Cleaned  atomic.Bool
}

var _ session.Session = (*Fake)(nil)

// New returns a Fake named name.
func New(name string) *Fake {
	return &Fake{Name: name, Pages: map[string]string{}}
}

// Factory returns a session.Factory that builds Fakes and records them
// in creation order.
type Factory struct {
	mu       sync.Mutex
	sessions []*Fake

	// FailOn makes the session for the given worker name fail Initialize.
	FailOn map[string]error
	// CleanupFails makes the session for the given worker name fail Cleanup.
	CleanupFails map[string]error
}

func (f *Factory) New(name string) session.Session {
	s := New(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailOn[name]; ok {
		s.InitErr = err
	}
	if err, ok := f.CleanupFails[name]; ok {
		s.CleanupErr = err
	}
	f.sessions = append(f.sessions, s)
	return s
}

// Sessions returns every Fake built so far.
func (f *Factory) Sessions() []*Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fake(nil), f.sessions...)
}

// Begin marks the start of exclusive use by a task; End marks its end.
func (s *Fake) Begin() {
	if s.InUse.Add(1) > 1 {
		s.Overlaps.Add(1)
	}
}

func (s *Fake) End() { s.InUse.Add(-1) }

func (s *Fake) Initialize(ctx context.Context) error {
	if s.InitErr != nil {
		return s.InitErr
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

func (s *Fake) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	s.Cleaned.Store(true)
	return s.CleanupErr
}

func (s *Fake) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Fake) Navigate(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return session.ErrNotInitialized
	}
	s.current = rawURL
	s.visited = append(s.visited, rawURL)
	return ctx.Err()
}

// Visited returns every URL navigated to.
func (s *Fake) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

func (s *Fake) WaitForSelector(ctx context.Context, selector string) error {
	return nil
}

func (s *Fake) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return "", session.ErrNoPage
	}
	return s.Pages[s.current], nil
}

func (s *Fake) Title(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return "", session.ErrNoPage
	}
	return s.current, nil
}

func (s *Fake) Fill(ctx context.Context, selector, value string) error {
	return nil
}

func (s *Fake) Click(ctx context.Context, selector string) error {
	return nil
}

func (s *Fake) Snapshot(ctx context.Context, filename string) (string, error) {
	return "", errors.New("sessiontest: snapshots not supported")
}

func (s *Fake) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
