package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/websocket"
)

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// SweepResult aggregates one scheduled sweep.
type SweepResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Scheduler runs the periodic sweep over every active feed integration.
type Scheduler struct {
	cron        *cron.Cron
	syncService *SyncService
	broadcaster *websocket.EventBroadcaster
	schedule    string

	mu      sync.RWMutex
	entryID cron.EntryID
	started bool
}

// NewScheduler creates a new sweep scheduler. schedule is a standard cron
// expression or descriptor such as "@hourly", evaluated in loc.
func NewScheduler(syncService *SyncService, schedule string, loc *time.Location, broadcaster *websocket.EventBroadcaster) *Scheduler {
	if schedule == "" {
		schedule = "@hourly"
	}
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		syncService: syncService,
		broadcaster: broadcaster,
		schedule:    schedule,
	}
}

// Start registers the sweep job and starts the cron loop. Sweeps run with
// ctx, so cancelling it aborts a sweep in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	id, err := s.cron.AddFunc(s.schedule, func() {
		s.RunSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep %q: %w", s.schedule, err)
	}
	s.entryID = id
	s.started = true

	s.cron.Start()
	appLog.Info("sync scheduler started", "schedule", s.schedule, "next_run", s.cron.Entry(id).Next)
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
// Stopping a scheduler that is not running is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	id := s.entryID
	s.mu.Unlock()

	appLog.Info("stopping sync scheduler")
	<-s.cron.Stop().Done()
	// a later Start registers the job again
	s.cron.Remove(id)
	appLog.Info("sync scheduler stopped")
}

// NextRun returns the next scheduled sweep, or nil when not started.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// RunSweep syncs every active feed integration one after another. A failing
// integration is recorded on its row and the sweep moves on.
func (s *Scheduler) RunSweep(ctx context.Context) SweepResult {
	var res SweepResult

	feeds, err := s.syncService.integrations.ListActiveFeeds(ctx, "")
	if err != nil {
		appLog.Error("sweep: listing active feeds failed", err)
		return res
	}

	appLog.Info("sweep started", "integrations", len(feeds))
	started := time.Now()

	for _, in := range feeds {
		if ctx.Err() != nil {
			appLog.Warn("sweep cancelled", "remaining", len(feeds)-res.Total)
			break
		}
		res.Total++
		if _, err := s.syncService.runIntegration(ctx, in); err != nil {
			res.Failed++
			continue
		}
		res.Succeeded++
	}

	appLog.Info("sweep finished", "total", res.Total, "succeeded", res.Succeeded,
		"failed", res.Failed, "duration", time.Since(started).Round(time.Millisecond))
	s.broadcaster.BroadcastSweepCompleted(res.Total, res.Succeeded, res.Failed)
	return res
}
