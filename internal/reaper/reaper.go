// Package reaper runs the scheduled cleanup of expired sessions and old
// audit entries. It runs on the leader replica only.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/centralreports/reportd/internal/domain"
)

// SessionPurger deletes sessions that expired or were revoked before cutoff.
type SessionPurger interface {
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditPruner deletes audit entries older than a cutoff.
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int, error)
}

// Config controls what the reaper removes and when.
type Config struct {
	// Schedule is a 5-field cron expression, e.g. "*/15 * * * *".
	Schedule string
	// SessionGrace keeps dead sessions around this long after they expire.
	SessionGrace time.Duration
	// AuditRetention is the maximum age of audit entries. Zero keeps them.
	AuditRetention time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a usable reaper schedule.
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", expr, err)
	}
	return nil
}

// Reaper is a background daemon that enforces session and audit retention.
type Reaper struct {
	sessions SessionPurger
	audit    AuditPruner
	cfg      Config
	schedule cron.Schedule

	mu     sync.Mutex
	status domain.ReaperStatus
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a Reaper. Either store may be nil to skip its task.
func New(sessions SessionPurger, audit AuditPruner, cfg Config) (*Reaper, error) {
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reaper{
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		schedule: schedule,
	}, nil
}

// Start schedules the cleanup. Overlapping runs are skipped and panics in
// a run are recovered.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	logger := cronLogger{}
	r.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	r.cron.Schedule(r.schedule, cron.FuncJob(func() { r.tick(ctx) }))
	r.cron.Start()

	slog.Info("reaper: started", "schedule", r.cfg.Schedule, "next_run", r.schedule.Next(r.cfg.Now()))
}

// Stop cancels a running cleanup and waits for it to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// RunNow executes a cleanup pass synchronously and returns its result.
func (r *Reaper) RunNow(ctx context.Context) domain.ReaperStatus {
	return r.tick(ctx)
}

// Status returns the result of the most recent pass.
func (r *Reaper) Status() domain.ReaperStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// tick executes all retention tasks. Each task is isolated; a failure in
// one does not prevent the others from running.
func (r *Reaper) tick(ctx context.Context) domain.ReaperStatus {
	now := r.cfg.Now()
	status := domain.ReaperStatus{LastRunAt: now}

	r.safeRun("purgeSessions", func() {
		status.SessionsPurged = r.purgeSessions(ctx, now)
	})
	r.safeRun("pruneAuditLog", func() {
		status.AuditPruned = r.pruneAuditLog(ctx, now)
	})

	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	slog.Info("reaper: tick complete",
		"sessions_purged", status.SessionsPurged,
		"audit_pruned", status.AuditPruned,
	)
	return status
}

func (r *Reaper) purgeSessions(ctx context.Context, now time.Time) int {
	if r.sessions == nil {
		return 0
	}
	count, err := r.sessions.DeleteExpiredSessions(ctx, now.Add(-r.cfg.SessionGrace))
	if err != nil {
		slog.Error("reaper: failed to purge sessions", "error", err)
		return 0
	}
	return count
}

func (r *Reaper) pruneAuditLog(ctx context.Context, now time.Time) int {
	if r.audit == nil || r.cfg.AuditRetention <= 0 {
		return 0
	}
	count, err := r.audit.DeleteOlderThan(ctx, now.Add(-r.cfg.AuditRetention))
	if err != nil {
		slog.Error("reaper: failed to prune audit log", "error", err)
		return 0
	}
	return count
}

// safeRun executes fn with panic recovery to isolate task failures.
func (r *Reaper) safeRun(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("reaper: task panicked", "task", name, "panic", rec)
		}
	}()
	fn()
}

// cronLogger routes cron's logging into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
