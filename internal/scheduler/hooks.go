package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Defaults for the hook schedules.
const (
	DefaultAdviceInterval = 4 * time.Hour
	DefaultDailySchedule  = "0 9 * * *"
	DefaultFireTimeout    = time.Minute
)

// FireFunc runs one hook for one user.
type FireFunc func(ctx context.Context, userID string, hook models.HookKind) error

type hookKey struct {
	userID string
	hook   models.HookKind
}

// HookRegistry keeps at most one cron entry per (user, hook kind).
type HookRegistry struct {
	sched   *Scheduler
	fire    FireFunc
	specs   map[models.HookKind]string
	timeout time.Duration

	mu      sync.Mutex
	entries map[hookKey]cron.EntryID
	ctx     context.Context
}

// HookOption configures a HookRegistry.
type HookOption func(*HookRegistry)

// WithAdviceInterval sets how often advice is delivered.
func WithAdviceInterval(d time.Duration) HookOption {
	return func(r *HookRegistry) {
		if d > 0 {
			r.specs[models.HookAdvice] = "@every " + d.String()
		}
	}
}

// WithDailySchedule sets the cron expression for the daily check-in.
func WithDailySchedule(expr string) HookOption {
	return func(r *HookRegistry) {
		if expr != "" {
			r.specs[models.HookDailyCheck] = expr
		}
	}
}

// WithFireTimeout bounds each hook run.
func WithFireTimeout(d time.Duration) HookOption {
	return func(r *HookRegistry) { r.timeout = d }
}

// NewHookRegistry validates the schedules and returns an empty registry.
func NewHookRegistry(s *Scheduler, fire FireFunc, opts ...HookOption) (*HookRegistry, error) {
	if s == nil || fire == nil {
		return nil, errors.New("scheduler and fire func are required")
	}
	r := &HookRegistry{
		sched: s,
		fire:  fire,
		specs: map[models.HookKind]string{
			models.HookAdvice:     "@every " + DefaultAdviceInterval.String(),
			models.HookDailyCheck: DefaultDailySchedule,
		},
		timeout: DefaultFireTimeout,
		entries: make(map[hookKey]cron.EntryID),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for hook, spec := range r.specs {
		if err := Validate(spec); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", hook, spec, err)
		}
	}
	slog.Debug("scheduler.NewHookRegistry configured", "advice", r.specs[models.HookAdvice], "daily", r.specs[models.HookDailyCheck])
	return r, nil
}

// SetContext sets the parent context of hook runs; cancelling it aborts in-flight backend calls.
func (r *HookRegistry) SetContext(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

// Spec returns the schedule used for hook.
func (r *HookRegistry) Spec(hook models.HookKind) string {
	return r.specs[hook]
}

// Enroll registers hook for userID. Enrolling twice is a no-op.
func (r *HookRegistry) Enroll(userID string, hook models.HookKind) error {
	spec, ok := r.specs[hook]
	if !ok {
		return fmt.Errorf("unknown hook %q", hook)
	}
	key := hookKey{userID, hook}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return nil
	}
	id, err := r.sched.AddJob(spec, func() { r.run(userID, hook) })
	if err != nil {
		return fmt.Errorf("schedule %s for %s: %w", hook, userID, err)
	}
	r.entries[key] = id
	slog.Info("HookRegistry enrolled", "userID", userID, "hook", hook, "spec", spec)
	return nil
}

// Cancel stops future firings of hook for userID.
func (r *HookRegistry) Cancel(userID string, hook models.HookKind) {
	key := hookKey{userID, hook}
	r.mu.Lock()
	id, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if ok {
		r.sched.Remove(id)
		slog.Info("HookRegistry canceled", "userID", userID, "hook", hook)
	}
}

// Enrolled reports whether hook is registered for userID.
func (r *HookRegistry) Enrolled(userID string, hook models.HookKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[hookKey{userID, hook}]
	return ok
}

// Len returns the number of enrolled (user, hook) pairs.
func (r *HookRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *HookRegistry) run(userID string, hook models.HookKind) {
	r.mu.Lock()
	parent := r.ctx
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	slog.Debug("HookRegistry firing", "userID", userID, "hook", hook)
	if err := r.fire(ctx, userID, hook); err != nil {
		slog.Error("HookRegistry hook failed", "userID", userID, "hook", hook, "error", err)
	}
}
