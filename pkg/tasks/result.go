package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"
)

// Result is the terminal outcome record for one task. It is immutable once
// appended to a result store; Clone before handing it out.
type Result struct {
	TaskID      string
	Status      Status
	Data        any
	Error       string
	Metadata    map[string]any
	StartedAt   time.Time
	CompletedAt time.Time

	// Retries is the number of attempts beyond the first.
	Retries int
}

// ExecutionTime is CompletedAt - StartedAt; ok is false unless both are set.
func (r Result) ExecutionTime() (d time.Duration, ok bool) {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0, false
	}
	return r.CompletedAt.Sub(r.StartedAt), true
}

// Clone returns a deep copy of r. Maps, slices and pointers reachable
// from Data and Metadata are copied, so writes to the clone never reach r.
func (r Result) Clone() Result {
	if r.Data != nil {
		r.Data = deepCopy(reflect.ValueOf(r.Data)).Interface()
	}
	if r.Metadata != nil {
		r.Metadata = deepCopy(reflect.ValueOf(r.Metadata)).Interface().(map[string]any)
	}
	return r
}

func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopy(v.Elem()))
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if out.Field(i).CanSet() {
				out.Field(i).Set(deepCopy(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}

type resultJSON struct {
	TaskID        string         `json:"task_id"`
	Status        Status         `json:"status"`
	Data          any            `json:"data"`
	Error         *string        `json:"error"`
	Metadata      map[string]any `json:"metadata"`
	StartedAt     *time.Time     `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
	Retries       int            `json:"retries"`
	ExecutionTime *float64       `json:"execution_time,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	w := resultJSON{
		TaskID:   r.TaskID,
		Status:   r.Status,
		Data:     r.Data,
		Metadata: r.Metadata,
		Retries:  r.Retries,
	}
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	if r.Error != "" {
		w.Error = &r.Error
	}
	if !r.StartedAt.IsZero() {
		w.StartedAt = &r.StartedAt
	}
	if !r.CompletedAt.IsZero() {
		w.CompletedAt = &r.CompletedAt
	}
	if d, ok := r.ExecutionTime(); ok {
		secs := d.Seconds()
		w.ExecutionTime = &secs
	}
	return json.Marshal(w)
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var w resultJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Result{
		TaskID:   w.TaskID,
		Status:   w.Status,
		Data:     w.Data,
		Metadata: w.Metadata,
		Retries:  w.Retries,
	}
	if w.Error != nil {
		r.Error = *w.Error
	}
	if w.StartedAt != nil {
		r.StartedAt = *w.StartedAt
	}
	if w.CompletedAt != nil {
		r.CompletedAt = *w.CompletedAt
	}
	return nil
}

// SaveResults writes results as an indented JSON array. The file is
// replaced atomically: readers see either the old or the new content.
func SaveResults(path string, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".results-*.json")
	if err != nil {
		return fmt.Errorf("create temp results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(results); err != nil {
		tmp.Close()
		return fmt.Errorf("encode results: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace results file: %w", err)
	}
	return nil
}

// LoadResults reads a file written by SaveResults.
func LoadResults(path string) ([]Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode results %s: %w", path, err)
	}
	return results, nil
}
