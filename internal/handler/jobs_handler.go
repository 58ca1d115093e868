package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codelens-ingest/internal/adapter/jobs"
)

// JobsHandler exposes in-process ingestion jobs.
type JobsHandler struct {
	tracker       *jobs.Tracker
	streamTimeout time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(tracker *jobs.Tracker) *JobsHandler {
	return &JobsHandler{tracker: tracker, streamTimeout: 5 * time.Minute}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	g := router.Group("/jobs")
	g.Get("/:id", h.GetStatus)
	g.Get("/:id/stream", h.StreamSSE)
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.tracker.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(job)
}

// StreamSSE streams job updates as Server-Sent Events until the job finishes.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	// The id outlives the request as a subscriber map key.
	id := strings.Clone(c.Params("id"))
	job, ok := h.tracker.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	if job.Done() {
		return c.SendString(sseFrame(*job))
	}

	// Subscribe before re-reading so no update between the two is lost.
	ch := h.tracker.Subscribe(id)
	timeout := h.streamTimeout

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.tracker.Unsubscribe(id, ch)

		if cur, ok := h.tracker.Get(id); ok {
			job = cur
		}
		fmt.Fprint(w, sseFrame(*job))
		if err := w.Flush(); err != nil || job.Done() {
			return
		}

		deadline := time.After(timeout)
		for {
			select {
			case update, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprint(w, sseFrame(update))
				if err := w.Flush(); err != nil {
					return
				}
				if update.Done() {
					return
				}
			case <-deadline:
				slog.Warn("Job stream timed out", "job_id", id)
				return
			}
		}
	})
}

// sseFrame names the event after the job state: progress while it runs,
// then complete or error.
func sseFrame(job jobs.JobStatus) string {
	event := "progress"
	if job.Done() {
		event = job.Status
	}
	data, _ := json.Marshal(job)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
