package tasks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Priority orders tasks in the queue. Higher values are dequeued first.
type Priority int

const (
	Low Priority = iota + 1
	Medium
	High
	Critical
)

// Priorities lists every level from highest to lowest, the order in which
// queue buckets are drained.
var Priorities = []Priority{Critical, High, Medium, Low}

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	return p >= Low && p <= Critical
}

// ParsePriority accepts a level name (case-insensitive) or its numeric
// value 1..4.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium", "default", "normal":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Priority(n).Valid() {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return Priority(n), nil
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if !Priority(n).Valid() {
			return fmt.Errorf("invalid priority %d", n)
		}
		*p = Priority(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("priority must be a name or number: %w", err)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p *Priority) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParsePriority(value.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
