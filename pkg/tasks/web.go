package tasks

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/session"
)

// Task kinds.
const (
	KindScrape   = "scrape"
	KindFillForm = "fill_form"
	KindNavigate = "navigate"
	KindExtract  = "extract"
)

func checkURL(id, raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return invalid(id, "invalid URL %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return invalid(id, "invalid URL %q", raw)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ScrapeTask loads a page and extracts the text of every element matched
// by each named CSS selector.
type ScrapeTask struct {
	*Base
	URL             string
	Selectors       map[string]string
	WaitForSelector string
}

func NewScrapeTask(id, rawURL string, selectors map[string]string, opts Options) *ScrapeTask {
	if opts.Description == "" {
		opts.Description = "Scrape data from " + rawURL
	}
	return &ScrapeTask{Base: NewBase(id, KindScrape, opts), URL: rawURL, Selectors: selectors}
}

func (t *ScrapeTask) TargetURLs() []string { return []string{t.URL} }

func (t *ScrapeTask) Validate() error {
	if err := checkURL(t.ID(), t.URL); err != nil {
		return err
	}
	if len(t.Selectors) == 0 {
		return invalid(t.ID(), "no selectors provided")
	}
	return nil
}

func (t *ScrapeTask) Execute(ctx context.Context, s session.Session) Outcome {
	log := logger.Log.With().Str("task_id", t.ID()).Logger()

	log.Info().Str("url", t.URL).Msg("Navigating")
	if err := s.Navigate(ctx, t.URL); err != nil {
		return Failed(err)
	}
	if t.WaitForSelector != "" {
		log.Info().Str("selector", t.WaitForSelector).Msg("Waiting for selector")
		if err := s.WaitForSelector(ctx, t.WaitForSelector); err != nil {
			return Failed(err)
		}
	}

	html, err := s.Content(ctx)
	if err != nil {
		return Failed(err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Failed(fmt.Errorf("parse page: %w", err))
	}

	extracted := make(map[string][]string, len(t.Selectors))
	counts := make(map[string]int, len(t.Selectors))
	for _, key := range sortedKeys(t.Selectors) {
		texts := doc.Find(t.Selectors[key]).Map(func(_ int, sel *goquery.Selection) string {
			return strings.TrimSpace(sel.Text())
		})
		if len(texts) == 0 {
			log.Warn().Str("selector", t.Selectors[key]).Msg("No elements found for selector")
			texts = []string{}
		}
		extracted[key] = texts
		counts[key] = len(texts)
	}

	return Succeeded(extracted, map[string]any{
		"url":              t.URL,
		"selectors_used":   maps.Clone(t.Selectors),
		"extraction_count": counts,
	})
}

// FormFillTask loads a page, fills form controls and optionally submits.
// A field that cannot be filled is logged and skipped.
type FormFillTask struct {
	*Base
	URL            string
	FormData       map[string]any
	SubmitSelector string
}

func NewFormFillTask(id, rawURL string, formData map[string]any, opts Options) *FormFillTask {
	if opts.Description == "" {
		opts.Description = "Fill form at " + rawURL
	}
	return &FormFillTask{Base: NewBase(id, KindFillForm, opts), URL: rawURL, FormData: formData}
}

func (t *FormFillTask) TargetURLs() []string { return []string{t.URL} }

func (t *FormFillTask) Validate() error {
	if err := checkURL(t.ID(), t.URL); err != nil {
		return err
	}
	if len(t.FormData) == 0 {
		return invalid(t.ID(), "no form data provided")
	}
	return nil
}

func (t *FormFillTask) Execute(ctx context.Context, s session.Session) Outcome {
	log := logger.Log.With().Str("task_id", t.ID()).Logger()

	log.Info().Str("url", t.URL).Msg("Navigating")
	if err := s.Navigate(ctx, t.URL); err != nil {
		return Failed(err)
	}

	filled := []string{}
	for _, selector := range sortedKeys(t.FormData) {
		if err := s.Fill(ctx, selector, fmt.Sprint(t.FormData[selector])); err != nil {
			log.Error().Err(err).Str("selector", selector).Msg("Failed to fill field")
			continue
		}
		filled = append(filled, selector)
	}

	if t.SubmitSelector != "" {
		log.Info().Str("selector", t.SubmitSelector).Msg("Submitting form")
		if err := s.Click(ctx, t.SubmitSelector); err != nil {
			return Failed(fmt.Errorf("submit form: %w", err))
		}
	}

	return Succeeded(
		map[string]any{"filled_fields": filled, "submitted": t.SubmitSelector != ""},
		map[string]any{"url": t.URL, "form_fields": sortedKeys(t.FormData)},
	)
}

// Action is a step performed on a page after navigating to it.
type Action struct {
	Type     string  `json:"type" yaml:"type"`
	Selector string  `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string  `json:"value,omitempty" yaml:"value,omitempty"`
	Duration float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Filename string  `json:"filename,omitempty" yaml:"filename,omitempty"`
}

var actionTypes = []string{"", "click", "fill", "wait", "screenshot"}

// NavigateTask visits URLs in order, performing Actions[i] on page i.
// A page that fails is recorded and the walk continues; the task fails
// only when no page could be visited.
type NavigateTask struct {
	*Base
	URLs    []string
	Actions []Action

	// PageDelay is the pause between consecutive pages.
	PageDelay time.Duration
}

func NewNavigateTask(id string, urls []string, actions []Action, opts Options) *NavigateTask {
	if opts.Description == "" {
		opts.Description = fmt.Sprintf("Navigate through %d pages", len(urls))
	}
	return &NavigateTask{Base: NewBase(id, KindNavigate, opts), URLs: urls, Actions: actions}
}

func (t *NavigateTask) TargetURLs() []string { return slices.Clone(t.URLs) }

func (t *NavigateTask) Validate() error {
	if len(t.URLs) == 0 {
		return invalid(t.ID(), "no URLs provided")
	}
	for _, u := range t.URLs {
		if err := checkURL(t.ID(), u); err != nil {
			return err
		}
	}
	for i, a := range t.Actions {
		if !slices.Contains(actionTypes, a.Type) {
			return invalid(t.ID(), "action %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}

func (t *NavigateTask) Execute(ctx context.Context, s session.Session) Outcome {
	log := logger.Log.With().Str("task_id", t.ID()).Logger()

	visited := []string{}
	pages := make([]map[string]any, 0, len(t.URLs))
	var lastErr error

	for i, u := range t.URLs {
		if i > 0 && t.PageDelay > 0 {
			if err := sleep(ctx, t.PageDelay); err != nil {
				return Failed(err)
			}
		}

		log.Info().Str("url", u).Msgf("Navigating (%d/%d)", i+1, len(t.URLs))
		if err := t.visit(ctx, s, i, u); err != nil {
			if ctx.Err() != nil {
				return Failed(err)
			}
			log.Error().Err(err).Str("url", u).Msg("Failed to navigate")
			pages = append(pages, map[string]any{"url": u, "error": err.Error()})
			lastErr = err
			continue
		}

		title, _ := s.Title(ctx)
		visited = append(visited, u)
		pages = append(pages, map[string]any{
			"url":       u,
			"title":     title,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}

	if len(visited) == 0 && lastErr != nil {
		return Failed(fmt.Errorf("no page could be visited: %w", lastErr))
	}
	return Succeeded(
		map[string]any{"visited_pages": visited, "page_data": pages},
		map[string]any{"total_urls": len(t.URLs), "successfully_visited": len(visited)},
	)
}

func (t *NavigateTask) visit(ctx context.Context, s session.Session, i int, u string) error {
	if err := s.Navigate(ctx, u); err != nil {
		return err
	}
	if i < len(t.Actions) {
		return perform(ctx, s, t.Actions[i])
	}
	return nil
}

func perform(ctx context.Context, s session.Session, a Action) error {
	switch a.Type {
	case "click":
		if a.Selector != "" {
			return s.Click(ctx, a.Selector)
		}
	case "fill":
		if a.Selector != "" && a.Value != "" {
			return s.Fill(ctx, a.Selector, a.Value)
		}
	case "wait":
		d := a.Duration
		if d <= 0 {
			d = 1
		}
		return sleep(ctx, time.Duration(d*float64(time.Second)))
	case "screenshot":
		name := a.Filename
		if name == "" {
			name = fmt.Sprintf("screenshot_%d.html", time.Now().UnixNano())
		}
		_, err := s.Snapshot(ctx, name)
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExtractTask loads a page and asks the session's extraction capability
// for structured data described by a prompt.
type ExtractTask struct {
	*Base
	URL    string
	Prompt string
	Format string
}

// ErrCannotExtract is returned when the worker's session has no
// extraction capability.
var ErrCannotExtract = errors.New("session does not support extraction")

// NewExtractTask defaults to High priority and json output.
func NewExtractTask(id, rawURL, prompt string, opts Options) *ExtractTask {
	if opts.Description == "" {
		opts.Description = "Extract data from " + rawURL
	}
	if opts.Priority == 0 {
		opts.Priority = High
	}
	return &ExtractTask{Base: NewBase(id, KindExtract, opts), URL: rawURL, Prompt: prompt, Format: "json"}
}

func (t *ExtractTask) TargetURLs() []string { return []string{t.URL} }

func (t *ExtractTask) Validate() error {
	if err := checkURL(t.ID(), t.URL); err != nil {
		return err
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return invalid(t.ID(), "no extraction prompt provided")
	}
	return nil
}

func (t *ExtractTask) Execute(ctx context.Context, s session.Session) Outcome {
	ex, ok := s.(session.Extracting)
	if !ok {
		return Failed(ErrCannotExtract)
	}

	logger.Log.Info().Str("task_id", t.ID()).Str("url", t.URL).Msg("Navigating")
	if err := s.Navigate(ctx, t.URL); err != nil {
		return Failed(err)
	}

	prompt := fmt.Sprintf("Extract the following data from this webpage: %s. Return the data in %s format.", t.Prompt, t.Format)
	data, err := ex.Extract(ctx, prompt, t.Format)
	if err != nil {
		return Failed(fmt.Errorf("extract: %w", err))
	}
	return Succeeded(data, map[string]any{
		"url":               t.URL,
		"extraction_prompt": t.Prompt,
		"output_format":     t.Format,
	})
}
