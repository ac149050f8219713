// Package focus ends focus sessions when their planned duration elapses.
package focus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/logging"
	"github.com/hpungsan/beacon/internal/metrics"
	"github.com/hpungsan/beacon/internal/session"
)

// Target receives the patch that ends a focus session.
type Target interface {
	UpdateContext(ctx context.Context, p *capsule.Patch) error
}

// EndPatch is applied when a focus session runs out.
func EndPatch() *capsule.Patch {
	return capsule.PatchOf(
		capsule.FieldFocusSessionActive, false,
		capsule.FieldFocusSessionStartTime, nil,
	)
}

// EndTime returns when c's focus session is due to end.
func EndTime(c *capsule.Capsule) (time.Time, bool) {
	if c == nil || !c.FocusSessionActive || c.FocusSessionStartTime == nil || c.FocusSessionDuration <= 0 {
		return time.Time{}, false
	}
	start := time.UnixMilli(*c.FocusSessionStartTime)
	return start.Add(time.Duration(c.FocusSessionDuration) * time.Minute), true
}

type timerJob struct {
	gen uint64
	job gocron.Job
	end time.Time
}

// Timer keeps at most one pending end-of-focus job per user.
type Timer struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
	now       func() time.Time

	mu   sync.Mutex
	jobs map[string]timerJob
	gen  uint64
}

// NewTimer creates a timer. Call Start to begin running jobs.
func NewTimer(logger *zap.Logger) (*Timer, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Timer{
		scheduler: scheduler,
		logger:    logging.OrNop(logger),
		now:       time.Now,
		jobs:      make(map[string]timerJob),
	}, nil
}

// Start starts the scheduler.
func (t *Timer) Start() {
	t.scheduler.Start()
}

// Stop drops pending jobs and shuts the scheduler down.
func (t *Timer) Stop() error {
	t.mu.Lock()
	t.jobs = make(map[string]timerJob)
	t.mu.Unlock()
	return t.scheduler.Shutdown()
}

// Scheduled returns the pending end time for userID.
func (t *Timer) Scheduled(userID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[userID]
	return j.end, ok
}

// Attach keeps s's focus session timed: the current capsule is synced now and
// again after every local update. Remote updates only cancel, so the process
// that started a session is the one that ends it.
func (t *Timer) Attach(s *session.Session) (detach func()) {
	if c := s.Capsule(); c != nil {
		t.Sync(s, c)
	}
	return s.Watch(func(u session.Update) {
		if u.Capsule == nil {
			return
		}
		if u.Remote {
			if _, active := EndTime(u.Capsule); !active {
				t.Cancel(u.Capsule.UserID)
			}
			return
		}
		t.Sync(s, u.Capsule)
	})
}

// Sync schedules, replaces or cancels the job for c's user to match c.
func (t *Timer) Sync(target Target, c *capsule.Capsule) {
	if c == nil {
		return
	}
	end, active := EndTime(c)
	if !active {
		t.Cancel(c.UserID)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.jobs[c.UserID]; ok {
		if existing.end.Equal(end) {
			return
		}
		t.removeLocked(c.UserID, existing)
	}

	t.gen++
	gen := t.gen
	userID := c.UserID

	startAt := gocron.OneTimeJobStartImmediately()
	if end.After(t.now()) {
		startAt = gocron.OneTimeJobStartDateTime(end)
	}
	job, err := t.scheduler.NewJob(
		gocron.OneTimeJob(startAt),
		gocron.NewTask(func() { t.fire(target, userID, gen) }),
		gocron.WithName("focus_end_"+userID),
		gocron.WithTags(userID),
	)
	if err != nil {
		t.logger.Error("failed to schedule focus end",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	t.jobs[userID] = timerJob{gen: gen, job: job, end: end}
	metrics.FocusTimersScheduled.Inc()
	t.logger.Debug("focus end scheduled",
		zap.String("user_id", userID),
		zap.Time("end", end))
}

// Cancel drops userID's pending job, if any.
func (t *Timer) Cancel(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.jobs[userID]; ok {
		t.removeLocked(userID, existing)
	}
}

func (t *Timer) removeLocked(userID string, j timerJob) {
	delete(t.jobs, userID)
	if err := t.scheduler.RemoveJob(j.job.ID()); err != nil {
		t.logger.Debug("focus job already gone",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

func (t *Timer) fire(target Target, userID string, gen uint64) {
	t.mu.Lock()
	j, ok := t.jobs[userID]
	if !ok || j.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.jobs, userID)
	t.mu.Unlock()

	// One-time jobs stay registered after running.
	_ = t.scheduler.RemoveJob(j.job.ID())

	if err := target.UpdateContext(context.Background(), EndPatch()); err != nil {
		metrics.FocusSessionsEnded.WithLabelValues(metrics.StatusFailure).Inc()
		t.logger.Warn("failed to end focus session",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	metrics.FocusSessionsEnded.WithLabelValues(metrics.StatusSuccess).Inc()
	t.logger.Info("focus session ended", zap.String("user_id", userID))
}
