// Package api exposes the executor over HTTP.
//
// API Endpoints:
//
//	POST /tasks          - validates and queues a task spec, returns its id
//	GET  /status         - executor status snapshot
//	GET  /results        - every result recorded by this process
//	GET  /result/:id     - one result, from memory or the Redis mirror
//	POST /schedule       - registers a cron entry submitting a task spec
//	GET  /stats          - queue depths per priority and Redis list lengths
//	GET  /tasks?queue=   - inspects completed_queue or dead_letter_queue
//	GET  /metrics        - Prometheus exposition (no auth)
//	GET  /health         - liveness (no auth)
//
// Request Format (POST /tasks):
//
//	{
//	  "type": "scrape",
//	  "url": "https://example.com",
//	  "selectors": {"title": "h1"},
//	  "priority": "high"
//	}
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kru5ty7/browser-agent-project/pkg/executor"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/queue"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

const inspectLimit = 50

// Executor is the part of *executor.Executor the API drives.
type Executor interface {
	AddTask(t tasks.Task) error
	Status() executor.Status
	Results() []tasks.Result
	Result(id string) (tasks.Result, bool)
	Schedule(spec string, build func() (tasks.Task, error)) (cron.EntryID, error)
}

// Handler serves the API. Store may be nil when Redis is not configured.
type Handler struct {
	exec  Executor
	store *queue.RedisStore
}

// NewRouter builds the gin engine with CORS, optional API key auth and
// panic recovery.
func NewRouter(exec Executor, store *queue.RedisStore, apiKey string) *gin.Engine {
	h := &Handler{exec: exec, store: store}

	router := gin.New()
	router.Use(recovery(), requestLogger(), enableCORS())

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/", authMiddleware(apiKey))
	{
		authed.POST("/tasks", h.submit)
		authed.GET("/tasks", h.inspect)
		authed.GET("/status", h.status)
		authed.GET("/results", h.results)
		authed.GET("/result/:id", h.result)
		authed.POST("/schedule", h.schedule)
		authed.GET("/stats", h.stats)
	}
	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": h.exec.Status().State})
}

// submit processes POST requests to queue a task.
func (h *Handler) submit(c *gin.Context) {
	var spec tasks.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	t, err := tasks.FromSpec(spec)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := h.exec.AddTask(t); err != nil {
		var verr *tasks.ValidationError
		switch {
		case errors.Is(err, tasks.ErrDuplicateID):
			c.JSON(http.StatusConflict, errorBody(err.Error()))
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, executor.ErrNotAccepting):
			c.JSON(http.StatusServiceUnavailable, errorBody(err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": t.ID()})
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.exec.Status())
}

func (h *Handler) results(c *gin.Context) {
	c.JSON(http.StatusOK, h.exec.Results())
}

// result looks in this process first, then in the Redis mirror.
func (h *Handler) result(c *gin.Context) {
	id := c.Param("id")
	if r, ok := h.exec.Result(id); ok {
		c.JSON(http.StatusOK, r)
		return
	}
	if h.store == nil {
		c.JSON(http.StatusNotFound, errorBody("result not found"))
		return
	}

	r, err := h.store.GetResult(c.Request.Context(), id)
	if errors.Is(err, queue.ErrResultNotFound) {
		c.JSON(http.StatusNotFound, errorBody("result not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, r)
}

type scheduleRequest struct {
	Spec string     `json:"spec" binding:"required"`
	Task tasks.Spec `json:"task"`
}

// schedule registers a cron entry. Each tick builds a task with a fresh id.
func (h *Handler) schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	template := req.Task
	template.TaskID = ""

	probe, err := tasks.FromSpec(template)
	if err == nil {
		err = probe.Validate()
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	entryID, err := h.exec.Schedule(req.Spec, func() (tasks.Task, error) {
		return tasks.FromSpec(template)
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid cron spec: "+err.Error()))
		return
	}
	logger.Log.Info().Str("spec", req.Spec).Int("entry_id", int(entryID)).Msg("Task scheduled")
	c.JSON(http.StatusCreated, gin.H{"entry_id": int(entryID)})
}

// stats returns the current queue depths.
func (h *Handler) stats(c *gin.Context) {
	st := h.exec.Status()
	body := gin.H{
		"queued":       st.Queued,
		"active":       st.Active,
		"completed":    st.Completed,
		"free_workers": st.FreeWorkers(),
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		body["redis"] = h.store.Depths(ctx)
	}
	c.JSON(http.StatusOK, body)
}

// inspect returns results from a Redis result list.
func (h *Handler) inspect(c *gin.Context) {
	name := c.Query("queue")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing queue parameter"))
		return
	}
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("redis is not configured"))
		return
	}
	limit := int64(inspectLimit)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody("invalid limit"))
			return
		}
		limit = n
	}

	results, err := h.store.Inspect(c.Request.Context(), name, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, results)
}

// Serve runs the API on addr until ctx is done, then shuts the server
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("addr", addr).Msg("API server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
