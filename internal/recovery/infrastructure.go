package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// SessionLister lists every stored session.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
}

// HookEnroller registers a recurring hook for a user.
type HookEnroller interface {
	Enroll(userID string, hook models.HookKind) error
}

// HookRecovery re-enrolls advice and daily check-in hooks for sessions whose flags are set.
type HookRecovery struct {
	sessions SessionLister
	hooks    HookEnroller

	// Counts from the last run.
	Advice     int
	DailyCheck int
}

// NewHookRecovery creates the hook recovery component.
func NewHookRecovery(sessions SessionLister, hooks HookEnroller) *HookRecovery {
	return &HookRecovery{sessions: sessions, hooks: hooks}
}

// Name identifies the component in logs.
func (h *HookRecovery) Name() string { return "hooks" }

// RecoverState walks all sessions and enrolls their hooks again.
func (h *HookRecovery) RecoverState(ctx context.Context) error {
	sessions, err := h.sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	h.Advice, h.DailyCheck = 0, 0
	failures := 0
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.AdviceEnrolled {
			if err := h.hooks.Enroll(s.UserID, models.HookAdvice); err != nil {
				slog.Error("HookRecovery advice enroll failed", "userID", s.UserID, "error", err)
				failures++
			} else {
				h.Advice++
			}
		}
		if s.DailyCheckEnrolled {
			if err := h.hooks.Enroll(s.UserID, models.HookDailyCheck); err != nil {
				slog.Error("HookRecovery daily check enroll failed", "userID", s.UserID, "error", err)
				failures++
			} else {
				h.DailyCheck++
			}
		}
	}
	slog.Info("HookRecovery completed", "sessions", len(sessions), "advice", h.Advice, "dailyCheck", h.DailyCheck, "failures", failures)
	if failures > 0 {
		return fmt.Errorf("%d hook enrollments failed", failures)
	}
	return nil
}
