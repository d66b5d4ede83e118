// Package main provides a benchmark tool for the browser agent API. It
// submits scrape tasks against a local page and measures how long the
// executor takes to drain them.
//
// Usage:
//
//	go run ./benchmark -tasks 1000 -api http://localhost:8081
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
)

const page = `<html><body><h1>Benchmark</h1><ul><li>a</li><li>b</li><li>c</li></ul></body></html>`

type client struct {
	api  string
	key  string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.api+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

type status struct {
	Active    int `json:"active_tasks"`
	Completed int `json:"completed_tasks"`
	QueueSize int `json:"queue_size"`
}

func main() {
	numTasks := flag.Int("tasks", 1000, "Number of tasks to submit")
	numSubmitters := flag.Int("submitters", 10, "Number of concurrent submitters")
	api := flag.String("api", "http://localhost:8081", "Agent API base URL")
	key := flag.String("key", "", "API key")
	target := flag.String("target", "", "Page to scrape (defaults to a built-in local page)")
	flag.Parse()

	if *target == "" {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, page)
		}))
		defer srv.Close()
		*target = srv.URL
	}

	c := &client{api: *api, key: *key, http: &http.Client{Timeout: 10 * time.Second}}
	ctx := context.Background()

	var before status
	if _, err := c.do(ctx, http.MethodGet, "/status", nil, &before); err != nil {
		fmt.Printf("Agent not reachable at %s: %v\n", *api, err)
		return
	}

	fmt.Printf("Browser Agent Benchmark\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Tasks to submit: %d\n", *numTasks)
	fmt.Printf("Concurrent submitters: %d\n", *numSubmitters)
	fmt.Printf("Target: %s\n\n", *target)

	fmt.Printf("Starting submit phase...\n")
	startSubmit := time.Now()

	var wg sync.WaitGroup
	var submitted, rejected atomic.Int64
	perSubmitter := *numTasks / *numSubmitters
	priorities := tasks.Priorities

	for i := 0; i < *numSubmitters; i++ {
		wg.Add(1)
		go func(submitter int) {
			defer wg.Done()
			for j := 0; j < perSubmitter; j++ {
				spec := tasks.Spec{
					Type:      tasks.KindScrape,
					TaskID:    uuid.New().String(),
					URL:       *target,
					Selectors: map[string]string{"items": "li"},
					Priority:  priorities[(submitter+j)%len(priorities)],
					Metadata:  map[string]any{"submitter": submitter, "n": j},
				}
				code, err := c.do(ctx, http.MethodPost, "/tasks", spec, nil)
				if err != nil || code != http.StatusAccepted {
					rejected.Add(1)
					continue
				}
				submitted.Add(1)
			}
		}(i)
	}

	wg.Wait()
	submitTime := time.Since(startSubmit)

	fmt.Printf("✓ Submitted %d tasks in %s (%d rejected)\n", submitted.Load(), submitTime, rejected.Load())
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(submitted.Load())/submitTime.Seconds())

	fmt.Printf("Waiting for all tasks to be processed...\n")
	startProcess := time.Now()
	want := before.Completed + int(submitted.Load())

	for {
		var st status
		if _, err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
			fmt.Printf("Error polling status: %v\n", err)
			return
		}
		if st.Completed >= want && st.QueueSize == 0 && st.Active == 0 {
			break
		}
		time.Sleep(2 * time.Second)
		fmt.Printf("  Remaining: %d tasks (%d queued, %d active)\n", want-st.Completed, st.QueueSize, st.Active)
	}

	processTime := time.Since(startProcess)
	n := float64(submitted.Load())

	fmt.Printf("\n✓ All tasks processed in %s\n", processTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n", n/processTime.Seconds())

	totalTime := submitTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", n/totalTime.Seconds())
}
