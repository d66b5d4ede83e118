package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/retry"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultUserAgent    = "browser-agent/1.0 (+headless)"
	DefaultPollInterval = 500 * time.Millisecond

	maxBodyBytes = 10 << 20
)

// Options configure an HTTPSession. Zero values get defaults.
type Options struct {
	// Timeout bounds each request and every WaitForSelector call.
	Timeout time.Duration

	UserAgent string

	// PollInterval is how often WaitForSelector reloads the page.
	PollInterval time.Duration

	// SnapshotDir receives Snapshot files; empty means the working directory.
	SnapshotDir string

	Extractor Extractor

	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

func (o *Options) fillDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// HTTPSession is a headless Session. Navigation is a GET, Fill records
// form values, and clicking a submit control posts the enclosing form with
// the recorded values. Cookies persist for the lifetime of the session.
type HTTPSession struct {
	name string
	opts Options

	mu      sync.Mutex
	client  *http.Client
	current *url.URL
	doc     *goquery.Document
	html    string
	filled  map[string]string
}

// NewHTTPSession returns an uninitialized session.
func NewHTTPSession(name string, opts Options) *HTTPSession {
	opts.fillDefaults()
	return &HTTPSession{name: name, opts: opts}
}

// HTTPFactory returns a Factory producing HTTPSessions sharing opts.
func HTTPFactory(opts Options) Factory {
	return func(name string) Session {
		return NewHTTPSession(name, opts)
	}
}

// Name returns the session name given at construction.
func (s *HTTPSession) Name() string { return s.name }

func (s *HTTPSession) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = &http.Client{
		Timeout:   s.opts.Timeout,
		Jar:       jar,
		Transport: s.opts.Transport,
	}
	s.filled = make(map[string]string)
	logger.Log.Debug().Str("session", s.name).Msg("Session initialized")
	return nil
}

func (s *HTTPSession) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	s.client = nil
	s.current = nil
	s.doc = nil
	s.html = ""
	s.filled = nil
	logger.Log.Debug().Str("session", s.name).Msg("Session cleaned up")
	return nil
}

func (s *HTTPSession) Navigate(ctx context.Context, rawURL string) error {
	target, err := s.resolve(rawURL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return s.load(ctx, req)
}

func (s *HTTPSession) WaitForSelector(ctx context.Context, selector string) error {
	deadline := time.Now().Add(s.opts.Timeout)
	for {
		doc, err := s.page()
		if err != nil {
			return err
		}
		if doc.Find(selector).Length() > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("selector %q not found within %s", selector, s.opts.Timeout)
		}

		timer := time.NewTimer(s.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.Navigate(ctx, s.CurrentURL()); err != nil {
			return err
		}
	}
}

func (s *HTTPSession) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return "", ErrNoPage
	}
	return s.html, nil
}

func (s *HTTPSession) Title(ctx context.Context) (string, error) {
	doc, err := s.page()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

// Fill records value for the named form control matched by selector.
// The value is sent when a submit control of its form is clicked.
func (s *HTTPSession) Fill(ctx context.Context, selector, value string) error {
	doc, err := s.page()
	if err != nil {
		return err
	}
	field := doc.Find(selector).First()
	if field.Length() == 0 {
		return fmt.Errorf("fill: no element matches %q", selector)
	}
	name, ok := field.Attr("name")
	if !ok || name == "" {
		return fmt.Errorf("fill: element %q has no name attribute", selector)
	}

	s.mu.Lock()
	s.filled[name] = value
	s.mu.Unlock()
	return nil
}

// Click follows links and submits forms. Other elements are not clickable
// without a script engine.
func (s *HTTPSession) Click(ctx context.Context, selector string) error {
	doc, err := s.page()
	if err != nil {
		return err
	}
	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("click: no element matches %q", selector)
	}

	if goquery.NodeName(el) == "a" {
		href, ok := el.Attr("href")
		if !ok {
			return fmt.Errorf("click: link %q has no href", selector)
		}
		return s.Navigate(ctx, href)
	}

	form := el.Closest("form")
	if form.Length() == 0 || !isSubmitControl(el) {
		return fmt.Errorf("click: element %q is not a link or form submit control", selector)
	}
	return s.submit(ctx, form, el)
}

// Snapshot writes the current page HTML to filename (inside SnapshotDir
// when set) and returns the written path.
func (s *HTTPSession) Snapshot(ctx context.Context, filename string) (string, error) {
	html, err := s.Content(ctx)
	if err != nil {
		return "", err
	}
	if filename == "" {
		filename = fmt.Sprintf("snapshot_%d.html", time.Now().UnixNano())
	}
	path := filename
	if s.opts.SnapshotDir != "" {
		path = filepath.Join(s.opts.SnapshotDir, filename)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	return path, nil
}

func (s *HTTPSession) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.String()
}

// Extract runs the configured Extractor against the current page.
func (s *HTTPSession) Extract(ctx context.Context, prompt, format string) (any, error) {
	if s.opts.Extractor == nil {
		return nil, ErrNoExtractor
	}
	html, err := s.Content(ctx)
	if err != nil {
		return nil, err
	}
	return s.opts.Extractor.Extract(ctx, html, prompt, format)
}

func (s *HTTPSession) page() (*goquery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotInitialized
	}
	if s.doc == nil {
		return nil, ErrNoPage
	}
	return s.doc, nil
}

func (s *HTTPSession) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ref, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		u = s.current.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url %q", u.String())
	}
	return u, nil
}

func (s *HTTPSession) load(ctx context.Context, req *http.Request) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrNotInitialized
	}

	req.Header.Set("User-Agent", s.opts.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return retry.Transient(fmt.Errorf("%s %s: %w", req.Method, req.URL, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return retry.Transient(fmt.Errorf("read %s: %w", req.URL, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Transientf("%s %s: status %d", req.Method, req.URL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", req.URL, err)
	}

	s.mu.Lock()
	s.current = resp.Request.URL
	s.doc = doc
	s.html = string(body)
	s.filled = make(map[string]string)
	s.mu.Unlock()

	logger.Log.Debug().
		Str("session", s.name).
		Str("url", resp.Request.URL.String()).
		Int("status", resp.StatusCode).
		Msg("Page loaded")
	return nil
}

func (s *HTTPSession) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	target, err := s.resolve(form.AttrOr("action", ""))
	if err != nil {
		return err
	}

	values := formDefaults(form)
	s.mu.Lock()
	for name, v := range s.filled {
		values.Set(name, v)
	}
	s.mu.Unlock()
	if name, ok := submitter.Attr("name"); ok && name != "" {
		values.Set(name, submitter.AttrOr("value", ""))
	}

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	}
	if err != nil {
		return fmt.Errorf("build form request: %w", err)
	}
	return s.load(ctx, req)
}

func isSubmitControl(el *goquery.Selection) bool {
	typ := strings.ToLower(el.AttrOr("type", ""))
	switch goquery.NodeName(el) {
	case "button":
		return typ == "" || typ == "submit"
	case "input":
		return typ == "submit" || typ == "image"
	}
	return false
}

// formDefaults collects the values a browser would send for the form
// before any user input.
func formDefaults(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input, textarea, select").Each(func(_ int, f *goquery.Selection) {
		name, ok := f.Attr("name")
		if !ok || name == "" {
			return
		}
		switch strings.ToLower(f.AttrOr("type", "")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := f.Attr("checked"); !checked {
				return
			}
		}

		switch goquery.NodeName(f) {
		case "textarea":
			values.Set(name, f.Text())
		case "select":
			opt := f.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = f.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Set(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
		default:
			values.Set(name, f.AttrOr("value", ""))
		}
	})
	return values
}
