package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/config"
	"github.com/agrayLee/SAM-Log-Analysis/internal/ingest"
	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
	"github.com/agrayLee/SAM-Log-Analysis/internal/scheduler"
)

type stubProgress struct {
	rows []model.FileProgress
}

func (s *stubProgress) ListFileProgress(ctx context.Context) ([]model.FileProgress, error) {
	return s.rows, nil
}

func newTestServer(t *testing.T, run scheduler.RunFunc, progress *stubProgress) *Server {
	t.Helper()
	sched, err := scheduler.New(config.SchedulerConfig{
		Timezone:     "UTC",
		RealtimeSpec: "*/15 * * * *",
		HourlySpec:   "0 * * * *",
		DailySpec:    "0 2 * * *",
	}, run, zerolog.Nop())
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	cfg := &config.Config{}
	cfg.Server.Port = "0"
	return New(cfg, sched, progress, zerolog.Nop())
}

func okRun(summary *model.Summary) scheduler.RunFunc {
	return func(ctx context.Context, kind ingest.Kind, date *time.Time, sink ingest.EventSink) (*model.Summary, error) {
		if sink != nil {
			sink.Emit(ingest.Event{Type: ingest.EventStart, Message: "start", Timestamp: time.Now()})
			sink.Emit(ingest.Event{Type: ingest.EventCompleted, Message: "done", Timestamp: time.Now()})
		}
		return summary, nil
	}
}

func TestProcess_ReturnsSummary(t *testing.T) {
	srv := newTestServer(t, okRun(&model.Summary{ProcessedFiles: 3, TotalNewRecords: 12}), &stubProgress{})

	req := httptest.NewRequest(http.MethodPost, "/logs/process", strings.NewReader(`{"date":"20250811"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	for _, want := range []string{`"processed_files":3`, `"total_new_records":12`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("body %s missing %s", rec.Body.String(), want)
		}
	}
}

func TestProcess_InvalidDate(t *testing.T) {
	srv := newTestServer(t, okRun(&model.Summary{}), &stubProgress{})

	req := httptest.NewRequest(http.MethodPost, "/logs/process", strings.NewReader(`{"date":"2025-08-11"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcess_BusyReturnsConflict(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := newTestServer(t, func(ctx context.Context, kind ingest.Kind, date *time.Time, sink ingest.EventSink) (*model.Summary, error) {
		close(started)
		<-release
		return &model.Summary{}, nil
	}, &stubProgress{})
	defer close(release)

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/logs/process", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		srv.Echo.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-started

	req := httptest.NewRequest(http.MethodPost, "/logs/process", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, okRun(&model.Summary{}), &stubProgress{})

	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"is_running":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestProcessingStatus_Counts(t *testing.T) {
	progress := &stubProgress{rows: []model.FileProgress{
		{FileName: "a.log", Status: model.ProcessStatusCompleted, ProcessedAt: time.Now()},
		{FileName: "b.log", Status: model.ProcessStatusFailed, ProcessedAt: time.Now()},
	}}
	srv := newTestServer(t, okRun(&model.Summary{}), progress)

	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/processing-status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, want := range []string{`"completed_files":1`, `"failed_files":1`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("body %s missing %s", rec.Body.String(), want)
		}
	}
}

func TestProcessLatest_StreamsTerminalEvent(t *testing.T) {
	srv := newTestServer(t, okRun(&model.Summary{}), &stubProgress{})

	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/process-latest", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: start") || !strings.Contains(body, "event: completed") {
		t.Fatalf("stream missing terminal events: %s", body)
	}
}
