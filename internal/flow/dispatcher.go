package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrNoSession is returned when a hook or admin action targets a user without a session.
var ErrNoSession = errors.New("no session for user")

// Dispatcher serializes events per user and runs them through the machine: lock, load, handle,
// save, update hook enrollment, send replies.
type Dispatcher struct {
	machine  *Machine
	sessions SessionManager
	sender   Sender
	hooks    HookScheduler
	queue    ReplyQueue
	locks    *SessionLocks
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHookScheduler sets where enrollment changes go.
func WithHookScheduler(h HookScheduler) DispatcherOption {
	return func(d *Dispatcher) { d.hooks = h }
}

// WithSessionLocks shares a lock set between dispatchers.
func WithSessionLocks(l *SessionLocks) DispatcherOption {
	return func(d *Dispatcher) { d.locks = l }
}

// WithReplyQueue stores the unsent tail of a failed delivery instead of dropping it.
func WithReplyQueue(q ReplyQueue) DispatcherOption {
	return func(d *Dispatcher) { d.queue = q }
}

// WithDispatcherClock overrides the time source used for new sessions.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(m *Machine, sessions SessionManager, sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		machine:  m,
		sessions: sessions,
		sender:   sender,
		locks:    NewSessionLocks(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetHookScheduler wires the scheduler after construction; the scheduler itself calls back
// into the dispatcher.
func (d *Dispatcher) SetHookScheduler(h HookScheduler) {
	d.hooks = h
}

// Dispatch handles one inbound message. First contact is treated as /start.
func (d *Dispatcher) Dispatch(ctx context.Context, in models.Inbound) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid inbound message: %w", err)
	}
	unlock := d.locks.Lock(in.From)
	defer unlock()

	s, err := d.sessions.Load(ctx, in.From)
	if err != nil {
		return Result{}, fmt.Errorf("load session %s: %w", in.From, err)
	}
	ev := InputFromInbound(in)
	if s == nil {
		slog.Info("Dispatcher.Dispatch new session", "userID", in.From)
		s = models.NewSession(in.From, d.now())
		ev = UserInput{Kind: models.ContentStart}
	}
	if in.DisplayName != "" {
		s.DisplayName = in.DisplayName
	}
	if in.FirstName != "" {
		s.FirstName = in.FirstName
	}
	return d.apply(ctx, s, ev)
}

// Fire runs a scheduler hook for userID.
func (d *Dispatcher) Fire(ctx context.Context, userID string, hook models.HookKind) (Result, error) {
	unlock := d.locks.Lock(userID)
	defer unlock()

	s, err := d.sessions.Load(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load session %s: %w", userID, err)
	}
	if s == nil {
		if d.hooks != nil {
			d.hooks.Cancel(userID, hook)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrNoSession, userID)
	}
	return d.apply(ctx, s, TimerFired{Hook: hook, At: d.now()})
}

// Restart resets an existing session as if the user had sent /start.
func (d *Dispatcher) Restart(ctx context.Context, userID string) (Result, error) {
	unlock := d.locks.Lock(userID)
	defer unlock()

	s, err := d.sessions.Load(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load session %s: %w", userID, err)
	}
	if s == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoSession, userID)
	}
	return d.apply(ctx, s, UserInput{Kind: models.ContentStart})
}

// apply runs the machine on a copy so that a failed event leaves the stored session untouched.
// The caller holds the session lock.
func (d *Dispatcher) apply(ctx context.Context, s *models.Session, ev Event) (Result, error) {
	work := s.Clone()
	res, err := d.machine.Handle(ctx, work, ev)
	if err != nil {
		slog.Error("Dispatcher.apply machine error", "userID", s.UserID, "state", s.State, "error", err)
		d.send(ctx, s.UserID, []models.Reply{{Text: locales.T(locales.KeyGenericError, s.Language)}})
		return Result{}, err
	}

	if err := d.sessions.Save(ctx, work); err != nil {
		slog.Error("Dispatcher.apply save failed", "userID", s.UserID, "error", err)
		d.send(ctx, s.UserID, []models.Reply{{Text: locales.T(locales.KeyGenericError, s.Language)}})
		return Result{}, fmt.Errorf("save session %s: %w", s.UserID, err)
	}
	slog.Debug("Dispatcher.apply", "userID", s.UserID, "from", s.State, "to", work.State, "kind", res.Kind, "replies", len(res.Replies))

	d.updateHooks(work.UserID, res)
	if err := d.send(ctx, work.UserID, res.Replies); err != nil {
		return res, err
	}
	return res, nil
}

func (d *Dispatcher) updateHooks(userID string, res Result) {
	if d.hooks == nil {
		return
	}
	for _, h := range res.Cancel {
		d.hooks.Cancel(userID, h)
	}
	for _, h := range res.Enroll {
		if err := d.hooks.Enroll(userID, h); err != nil {
			slog.Error("Dispatcher enroll failed", "userID", userID, "hook", h, "error", err)
		}
	}
}

// send delivers replies in order. With a reply queue, a failed delivery queues the unsent tail,
// and while older replies are still queued new ones are queued behind them.
func (d *Dispatcher) send(ctx context.Context, to string, replies []models.Reply) error {
	if len(replies) == 0 {
		return nil
	}
	if d.queue != nil {
		pending, err := d.queue.HasPendingReplies(ctx, to)
		if err != nil {
			slog.Warn("Dispatcher pending reply check failed", "userID", to, "error", err)
		} else if pending {
			return d.enqueue(ctx, to, replies, nil)
		}
	}
	for i, r := range replies {
		if err := d.sender.SendReply(ctx, to, r); err != nil {
			slog.Error("Dispatcher send failed", "userID", to, "reply", i, "error", err)
			if d.queue == nil {
				return fmt.Errorf("send reply %d to %s: %w", i, to, err)
			}
			return d.enqueue(ctx, to, replies[i:], err)
		}
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, to string, replies []models.Reply, cause error) error {
	id, err := d.queue.EnqueueReplies(ctx, to, replies)
	if err != nil {
		if cause != nil {
			return fmt.Errorf("send to %s: %w (queueing failed: %v)", to, cause, err)
		}
		return fmt.Errorf("queue replies for %s: %w", to, err)
	}
	slog.Warn("Dispatcher queued replies", "userID", to, "outboxID", id, "count", len(replies), "cause", cause)
	return nil
}
