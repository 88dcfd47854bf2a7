// Package server exposes the ingestion core over HTTP: manual trigger,
// status queries, and a streaming-progress variant of the trigger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/config"
	"github.com/agrayLee/SAM-Log-Analysis/internal/ingest"
	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
	"github.com/agrayLee/SAM-Log-Analysis/internal/response"
	"github.com/agrayLee/SAM-Log-Analysis/internal/scheduler"
)

// ProgressStore is the read side used by the processing-status route.
type ProgressStore interface {
	ListFileProgress(ctx context.Context) ([]model.FileProgress, error)
}

// Server holds the Echo app and its collaborators.
type Server struct {
	Echo  *echo.Echo
	cfg   *config.Config
	sched *scheduler.Scheduler
	store ProgressStore
	log   zerolog.Logger
}

type processRequest struct {
	Date string `json:"date"`
}

// New builds the Echo server and registers routes.
func New(cfg *config.Config, sched *scheduler.Scheduler, store ProgressStore, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover(), middleware.Logger())

	s := &Server{Echo: e, cfg: cfg, sched: sched, store: store, log: log.With().Str("component", "server").Logger()}

	e.POST("/logs/process", s.process)
	e.GET("/logs/status", s.status)
	e.GET("/logs/processing-status", s.processingStatus)
	e.GET("/logs/process-latest", s.processLatest)

	return s
}

// process triggers one manual run and returns its summary once it ends.
func (s *Server) process(c echo.Context) error {
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body", err.Error())
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return response.BadRequest(c, "invalid date", err.Error())
	}

	summary, err := s.sched.RunManual(c.Request().Context(), date, nil)
	if err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			return response.Conflict(c, "processing already in progress", err.Error())
		}
		return response.InternalError(c, "log processing failed", err.Error())
	}
	return response.OK(c, summary, "log processing completed")
}

// status reports the scheduler's run state.
func (s *Server) status(c echo.Context) error {
	return response.OK(c, s.sched.Status(), "")
}

// processingStatus summarizes per-file progress history.
func (s *Server) processingStatus(c echo.Context) error {
	progress, err := s.store.ListFileProgress(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "list processing status failed", err.Error())
	}
	var completed, failed int
	for _, p := range progress {
		switch p.Status {
		case model.ProcessStatusCompleted:
			completed++
		case model.ProcessStatusFailed:
			failed++
		}
	}
	data := map[string]any{
		"files":           progress,
		"completed_files": completed,
		"failed_files":    failed,
	}
	if len(progress) > 0 {
		data["last_processed_at"] = progress[0].ProcessedAt
	}
	return response.OK(c, data, "")
}

// processLatest is the streaming variant of the manual trigger: progress is
// pushed as Server-Sent Events and the stream always ends with a terminal
// completed or error event.
func (s *Server) processLatest(c echo.Context) error {
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return response.BadRequest(c, "invalid date", err.Error())
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	sink := ingest.SinkFunc(func(e ingest.Event) {
		writeSSE(res, e)
	})

	_, err = s.sched.RunManual(c.Request().Context(), date, sink)
	if err != nil {
		// The run emits its own terminal error event for internal
		// failures; a busy scheduler never entered the run at all.
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeSSE(res, ingest.Event{
				Type:      ingest.EventError,
				Message:   "processing already in progress",
				Timestamp: time.Now(),
			})
		}
		s.log.Error().Err(err).Msg("streamed run failed")
	}
	return nil
}

func writeSSE(res *echo.Response, e ingest.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(res, "event: %s\ndata: %s\n\n", e.Type, data)
	res.Flush()
}

// parseDate accepts the 8-digit date token used in share folder names.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return nil, fmt.Errorf("expected YYYYMMDD: %w", err)
	}
	return &t, nil
}

// Start serves HTTP until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()
	return s.Echo.Start(":" + s.cfg.Server.Port)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
