// Package leader provides Postgres advisory lock-based leader election.
// When several reportd replicas run, only the leader starts background
// workers (the session and audit reaper) so cleanup runs once.
//
// The leader holds a session-level advisory lock on a dedicated connection
// and re-verifies it on every tick. When the leader dies, Postgres releases
// the lock and another replica takes over on its next attempt.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AdvisoryLockID is the Postgres advisory lock key of the worker leader.
// It differs from the migration lock.
const AdvisoryLockID int64 = 4180253905517

// RetryInterval is the default interval between election attempts.
const RetryInterval = 30 * time.Second

// Locker is a non-blocking distributed lock. TryLock on a held lock
// verifies it is still held. *postgres.AdvisoryLock implements it.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// OnElected is called when this replica becomes the leader. The context
// is cancelled when leadership ends; the returned stop function is called
// then as well and should wait for workers to exit.
type OnElected func(ctx context.Context) (stop func())

// Elector runs leader election over a Locker.
type Elector struct {
	lock          Locker
	retryInterval time.Duration
	onElected     OnElected

	mu         sync.Mutex
	isLeader   bool
	stopFn     func()
	termCancel context.CancelFunc
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an Elector. retryInterval controls how often a follower
// retries and how often the leader re-verifies its lock.
func New(lock Locker, retryInterval time.Duration, onElected OnElected) *Elector {
	if retryInterval <= 0 {
		retryInterval = RetryInterval
	}
	return &Elector{
		lock:          lock,
		retryInterval: retryInterval,
		onElected:     onElected,
	}
}

// Start begins the election loop in a background goroutine. It tries to
// acquire the lock immediately, then on every interval.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)

		e.tick(ctx)

		ticker := time.NewTicker(e.retryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				e.relinquish()
				// The parent context is gone; give the unlock its own deadline.
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := e.lock.Unlock(unlockCtx); err != nil {
					slog.Warn("leader: failed to release advisory lock", "error", err)
				}
				cancel()
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

// Stop cancels the election loop and waits for it to finish. A leader
// stops its workers and releases the lock.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// IsLeader returns whether this replica currently holds the leader lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// tick acquires the lock as a follower or re-verifies it as the leader.
func (e *Elector) tick(ctx context.Context) {
	held, err := e.lock.TryLock(ctx)
	if err != nil {
		slog.Error("leader: failed to try advisory lock", "error", err)
		held = false
	}

	wasLeader := e.IsLeader()
	switch {
	case held && !wasLeader:
		e.elect(ctx)
	case !held && wasLeader:
		slog.Warn("leader: advisory lock lost")
		e.relinquish()
	case !held:
		slog.Debug("leader: lock not acquired, another replica is leader")
	}
}

func (e *Elector) elect(ctx context.Context) {
	slog.Info("leader: advisory lock acquired, starting background workers")

	termCtx, termCancel := context.WithCancel(ctx)
	stopFn := e.onElected(termCtx)

	e.mu.Lock()
	e.isLeader = true
	e.stopFn = stopFn
	e.termCancel = termCancel
	e.mu.Unlock()
}

// relinquish stops background workers if this replica is the leader.
func (e *Elector) relinquish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader {
		return
	}

	slog.Info("leader: relinquishing leadership, stopping background workers")
	if e.termCancel != nil {
		e.termCancel()
		e.termCancel = nil
	}
	if e.stopFn != nil {
		e.stopFn()
		e.stopFn = nil
	}
	e.isLeader = false
}
