package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxMaxAttempts  = 8
	outboxStaleThreshold      = 5 * time.Minute
	outboxClaimLimit          = 10
	outboxBaseBackoff         = 10 * time.Second
)

// ReplySendFunc delivers one reply to one user.
type ReplySendFunc func(ctx context.Context, userID string, reply models.Reply) error

// OutboxSender periodically claims due outbox messages and retries their replies in order.
type OutboxSender struct {
	repo         OutboxRepo
	send         ReplySendFunc
	pollInterval time.Duration
	maxAttempts  int
	now          func() time.Time
}

// OutboxSenderOption configures an OutboxSender.
type OutboxSenderOption func(*OutboxSender)

// WithOutboxPollInterval sets how often due messages are claimed.
func WithOutboxPollInterval(d time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithOutboxMaxAttempts sets how many failed attempts park a message as failed.
func WithOutboxMaxAttempts(n int) OutboxSenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithOutboxClock overrides the time source.
func WithOutboxClock(now func() time.Time) OutboxSenderOption {
	return func(s *OutboxSender) { s.now = now }
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, send ReplySendFunc, opts ...OutboxSenderOption) *OutboxSender {
	s := &OutboxSender{
		repo:         repo,
		send:         send,
		pollInterval: DefaultOutboxPollInterval,
		maxAttempts:  DefaultOutboxMaxAttempts,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStale requeues messages left in sending by a crash. Call it once at startup.
func (s *OutboxSender) RecoverStale(ctx context.Context) error {
	n, err := s.repo.RequeueStaleOutbox(ctx, s.now().Add(-outboxStaleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStale: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled. It always returns nil so it can sit in an errgroup.
func (s *OutboxSender) Run(ctx context.Context) error {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return nil
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims the due messages once and attempts each of them. It returns how many were delivered.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutbox(ctx, now, outboxClaimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	delivered := 0
	for _, msg := range msgs {
		sent, err := s.deliver(ctx, msg)
		if err == nil {
			if err := s.repo.MarkOutboxSent(ctx, msg.ID); err != nil {
				slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			}
			slog.Debug("OutboxSender.Poll: message sent", "id", msg.ID, "userID", msg.UserID)
			delivered++
			continue
		}

		attempts := msg.Attempts + 1
		final := attempts >= s.maxAttempts
		// 10s, 20s, 40s, ... capped at about 2.8h
		backoff := outboxBaseBackoff << min(msg.Attempts, 10)
		slog.Error("OutboxSender.Poll: send failed", "id", msg.ID, "userID", msg.UserID,
			"attempts", attempts, "final", final, "error", err)
		if err := s.repo.FailOutbox(ctx, msg.ID, msg.Replies[sent:], err.Error(), now.Add(backoff), final); err != nil {
			slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
		}
	}
	return delivered
}

// deliver sends replies in order and reports how many went out before the first error.
func (s *OutboxSender) deliver(ctx context.Context, msg OutboxMessage) (int, error) {
	for i, r := range msg.Replies {
		if err := s.send(ctx, msg.UserID, r); err != nil {
			return i, err
		}
	}
	return len(msg.Replies), nil
}
