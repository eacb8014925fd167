// Package ingest copies crash reports from a crash-reporting source into the
// app_crashes collection, on a schedule and on demand.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/metrics"
	"github.com/balaan/admindash/pkg/types"
)

// Source tags stored on ingested crashes.
const (
	SourceScheduled = "crashlytics_auto_sync"
	SourceRealtime  = "crashlytics_realtime"
	SourceTest      = "test_function"
)

// DefaultInterval is the scheduled polling interval.
const DefaultInterval = 5 * time.Minute

// staleAfter is how many intervals may pass without a successful run before
// the job reports itself stale.
const staleAfter = 3

// Config holds the job's collaborators.
type Config struct {
	Store    docstore.Store
	Source   Source
	Clock    clockwork.Clock // nil = real clock
	Interval time.Duration   // zero = DefaultInterval
	Retry    RetryPolicy     // zero = DefaultRetry
}

// Status describes the job's run history.
type Status struct {
	LastRun     time.Time `json:"last_run"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Runs        int64     `json:"runs"`
	Ingested    int64     `json:"ingested"`
}

// Job ingests crashes.
type Job struct {
	store    docstore.Store
	source   Source
	clock    clockwork.Clock
	status   Status
	retry    RetryPolicy
	interval time.Duration
	mu       sync.RWMutex
}

// New creates a job from cfg.
func New(cfg Config) (*Job, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	j := &Job{
		store:    cfg.Store,
		source:   cfg.Source,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		retry:    cfg.Retry,
	}
	if j.source == nil {
		j.source = StaticSource(nil)
	}
	if j.clock == nil {
		j.clock = clockwork.NewRealClock()
	}
	if j.interval <= 0 {
		j.interval = DefaultInterval
	}
	if j.retry.Attempts == 0 {
		j.retry = DefaultRetry
	}
	return j, nil
}

// RunOnce polls the source and stores every crash it returns. A crash that
// cannot be stored does not stop the others; the returned error joins every
// failure.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	start := j.clock.Now()
	slog.Info("Starting crash sync", "component", "ingest")

	crashes, err := j.source.Recent(ctx)
	if err != nil {
		j.finish(start, 0, fmt.Errorf("fetching crashes: %w", err))
		return 0, fmt.Errorf("fetching crashes: %w", err)
	}
	if len(crashes) == 0 {
		slog.Info("No new crashes to sync", "component", "ingest")
		j.finish(start, 0, nil)
		return 0, nil
	}

	var errs []error
	written := 0
	for _, c := range crashes {
		if _, err := j.write(ctx, c, SourceScheduled); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	metrics.IncIngested(SourceScheduled, written)

	err = errors.Join(errs...)
	j.finish(start, written, err)
	if err != nil {
		slog.Error("Crash sync finished with errors", "component", "ingest", "written", written, "failed", len(errs), "error", err)
		return written, err
	}
	slog.Info("Crash sync complete", "component", "ingest", "written", written, "duration", j.clock.Since(start))
	return written, nil
}

func (j *Job) finish(start time.Time, written int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.LastRun = start
	j.status.Runs++
	j.status.Ingested += int64(written)
	if err != nil {
		j.status.LastError = err.Error()
		metrics.IncIngestRun("error")
		return
	}
	j.status.LastError = ""
	j.status.LastSuccess = start
	metrics.IncIngestRun("ok")
}

// Run calls RunOnce immediately and then every interval until ctx is done.
// Run failures are logged and do not stop the loop.
func (j *Job) Run(ctx context.Context) error {
	slog.Info("Crash sync scheduled", "component", "ingest", "interval", j.interval)
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil {
			slog.Error("Crash sync failed", "component", "ingest", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Context cancelled, stopping crash sync", "component", "ingest")
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// HandleRealtime stores a crash pushed by the crash-reporting service. Fatal
// crashes also raise an admin notification. It returns the new document id.
func (j *Job) HandleRealtime(ctx context.Context, c types.Crash) (string, error) {
	id, err := j.write(ctx, c, SourceRealtime)
	if err != nil {
		return "", err
	}
	metrics.IncIngested(SourceRealtime, 1)

	if c.Fatal() {
		note := docstore.Record{
			"type":       "crash_fatal",
			"title":      "Crash fatal détecté",
			"message":    c.ErrorType + ": " + c.Message,
			"priority":   "high",
			"created_at": docstore.ServerTimestamp,
			"read":       false,
			"crash_id":   c.CrashlyticsID,
		}
		err := retryWithBackoff(ctx, j.retry, "notify fatal crash", always, func() error {
			_, err := j.store.Add(ctx, types.CollectionNotifications, note)
			return err
		})
		if err != nil {
			return id, fmt.Errorf("creating notification for %s: %w", c.CrashlyticsID, err)
		}
		slog.Warn("Fatal crash reported", "component", "ingest", "crash_id", c.CrashlyticsID, "error_type", c.ErrorType)
	}
	return id, nil
}

// CreateTestCrash stores one synthetic crash to verify the ingestion path. It
// returns the crash's reporting id.
func (j *Job) CreateTestCrash(ctx context.Context) (string, error) {
	now := j.clock.Now()
	c := types.Crash{
		Timestamp:     now,
		Device:        types.Device{Model: "Test Device", OSVersion: "Test OS"},
		ErrorType:     "TestError",
		Message:       "Test crash from the ingestion service",
		Severity:      "non-fatal",
		Platform:      "Test",
		AppVersion:    "1.2.3",
		UserID:        "test_user",
		StackTrace:    "Test stack trace",
		CrashlyticsID: "test_" + strconv.FormatInt(now.UnixMilli(), 10),
		CrashCount:    1,
		AffectedUsers: 1,
	}
	if _, err := j.write(ctx, c, SourceTest); err != nil {
		return "", err
	}
	metrics.IncIngested(SourceTest, 1)
	return c.CrashlyticsID, nil
}

// write stores c under a fresh id. The id is chosen before retrying so a
// retried write cannot create a duplicate.
func (j *Job) write(ctx context.Context, c types.Crash, source string) (string, error) {
	if c.Timestamp.IsZero() {
		c.Timestamp = j.clock.Now()
	}
	fields := c.Record()
	fields["source"] = source
	fields["synced_at"] = docstore.ServerTimestamp

	id := uuid.NewString()
	err := retryWithBackoff(ctx, j.retry, "store crash "+c.CrashlyticsID, always, func() error {
		return j.store.Set(ctx, types.CollectionCrashes, id, fields)
	})
	if err != nil {
		return "", fmt.Errorf("storing crash %s: %w", c.CrashlyticsID, err)
	}
	return id, nil
}

// Status returns a snapshot of the run history.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Stale reports whether the last successful run is older than three
// intervals. A job that has never succeeded is stale once it has run.
func (j *Job) Stale() bool {
	s := j.Status()
	if s.Runs == 0 {
		return false
	}
	if s.LastSuccess.IsZero() {
		return true
	}
	return j.clock.Since(s.LastSuccess) > staleAfter*j.interval
}
