package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Spec is the declarative form of a task as found in task files, HTTP
// requests and schedules. Timeout and PageDelay are in seconds.
type Spec struct {
	Type        string         `json:"type" yaml:"type"`
	TaskID      string         `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    Priority       `json:"priority,omitempty" yaml:"priority,omitempty"`
	Timeout     float64        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	URL             string            `json:"url,omitempty" yaml:"url,omitempty"`
	URLs            []string          `json:"urls,omitempty" yaml:"urls,omitempty"`
	Selectors       map[string]string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	WaitForSelector string            `json:"wait_for_selector,omitempty" yaml:"wait_for_selector,omitempty"`
	FormData        map[string]any    `json:"form_data,omitempty" yaml:"form_data,omitempty"`
	SubmitSelector  string            `json:"submit_selector,omitempty" yaml:"submit_selector,omitempty"`
	Actions         []Action          `json:"actions,omitempty" yaml:"actions,omitempty"`
	PageDelay       float64           `json:"page_delay,omitempty" yaml:"page_delay,omitempty"`
	Prompt          string            `json:"extraction_prompt,omitempty" yaml:"extraction_prompt,omitempty"`
	OutputFormat    string            `json:"output_format,omitempty" yaml:"output_format,omitempty"`
}

// NewID returns a fresh task identifier.
func NewID() string {
	return uuid.New().String()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// FromSpec builds the concrete task for spec. An empty TaskID gets a
// generated one. The task is not validated here; submission validates.
func FromSpec(spec Spec) (Task, error) {
	id := spec.TaskID
	if id == "" {
		id = NewID()
	}
	opts := Options{
		Description: spec.Description,
		Priority:    spec.Priority,
		Timeout:     seconds(spec.Timeout),
		Metadata:    spec.Metadata,
	}

	switch strings.ToLower(spec.Type) {
	case KindScrape:
		t := NewScrapeTask(id, spec.URL, spec.Selectors, opts)
		t.WaitForSelector = spec.WaitForSelector
		return t, nil
	case KindFillForm:
		t := NewFormFillTask(id, spec.URL, spec.FormData, opts)
		t.SubmitSelector = spec.SubmitSelector
		return t, nil
	case KindNavigate:
		urls := spec.URLs
		if len(urls) == 0 && spec.URL != "" {
			urls = []string{spec.URL}
		}
		t := NewNavigateTask(id, urls, spec.Actions, opts)
		t.PageDelay = seconds(spec.PageDelay)
		return t, nil
	case KindExtract:
		t := NewExtractTask(id, spec.URL, spec.Prompt, opts)
		if spec.OutputFormat != "" {
			t.Format = spec.OutputFormat
		}
		return t, nil
	default:
		return nil, invalid(id, "unknown task type %q", spec.Type)
	}
}

// LoadSpecs reads a list of task specs from a JSON file, or YAML when
// the extension is .yaml or .yml.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var specs []Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &specs)
	default:
		err = json.Unmarshal(data, &specs)
	}
	if err != nil {
		return nil, fmt.Errorf("decode tasks file %s: %w", path, err)
	}
	return specs, nil
}
