package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/validate"
)

func (m *Machine) handleTimer(ctx context.Context, s *models.Session, ev TimerFired) (Result, error) {
	var (
		res Result
		err error
	)
	switch ev.Hook {
	case models.HookAdvice:
		res, err = m.adviceHook(ctx, s)
	case models.HookDailyCheck:
		res, err = m.dailyHook(s)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownHook, ev.Hook)
	}
	if err == nil && len(res.Replies) > 0 {
		s.UpdatedAt = m.now()
	}
	return res, err
}

// adviceHook delivers the next advice piece. Once the backend has none left the enrollment is
// dropped and a session resting after the consultation goes back to completed.
func (m *Machine) adviceHook(ctx context.Context, s *models.Session) (Result, error) {
	if !s.AdviceEnrolled {
		return Result{Kind: Reprompt, Cancel: []models.HookKind{models.HookAdvice}}, nil
	}
	email := m.email(s)
	count, err := m.backend.AdvicePieceCount(ctx, email)
	if err != nil {
		slog.Error("Machine.adviceHook AdvicePieceCount failed", "userID", s.UserID, "error", err)
		return Result{Kind: Reprompt}, nil
	}
	if count <= 0 {
		s.AdviceEnrolled = false
		res := Result{Kind: Reprompt, Cancel: []models.HookKind{models.HookAdvice}}
		if s.State == models.StateInitialConsultationCompleted || s.State == models.StateConsulting {
			if err := m.move(s, models.StateCompleted); err != nil {
				return Result{}, err
			}
			res.Kind = Terminal
		}
		slog.Info("Machine.adviceHook advice exhausted", "userID", s.UserID, "state", s.State)
		return res, nil
	}

	if p, err := m.backend.GetProfile(ctx, email); err != nil {
		slog.Warn("Machine.adviceHook GetProfile failed, using session language", "userID", s.UserID, "error", err)
	} else if p != nil && p.PreferredLang.IsSupported() {
		s.Language = p.PreferredLang
	}

	piece, err := m.backend.NextAdvicePiece(ctx, email)
	if err != nil {
		slog.Error("Machine.adviceHook NextAdvicePiece failed", "userID", s.UserID, "error", err)
		return Result{Kind: Reprompt}, nil
	}
	if strings.TrimSpace(piece) == "" {
		return Result{Kind: Reprompt}, nil
	}
	slog.Debug("Machine.adviceHook delivering piece", "userID", s.UserID, "remaining", count-1, "lang", s.Language)
	return reprompt(models.Reply{Text: piece, Markup: models.MarkupMarkdown}), nil
}

// dailyHook opens the daily check-in for a session resting after the consultation. Sessions in
// any other state are left alone until the next firing.
func (m *Machine) dailyHook(s *models.Session) (Result, error) {
	if !s.DailyCheckEnrolled {
		return Result{Kind: Reprompt, Cancel: []models.HookKind{models.HookDailyCheck}}, nil
	}
	if s.State != models.StateInitialConsultationCompleted {
		slog.Debug("Machine.dailyHook skipped", "userID", s.UserID, "state", s.State)
		return Result{Kind: Reprompt}, nil
	}
	greeting := locales.T(locales.KeyDailyGreeting, s.Language)
	s.DailyGreeting = greeting
	s.DailyNotes = ""
	return m.advanceTo(s, models.StateWaitingForNotes, models.Reply{Text: greeting, RemoveKeyboard: true})
}

func (m *Machine) handleDailyNotes(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := m.textOrVoice(ctx, s, in)
	if !ok {
		return res, nil
	}
	s.DailyNotes = text
	return m.advanceTo(s, models.StateWaitingForLevel, levelPrompt(locales.KeyDailyLevel, s.Language))
}

func (m *Machine) handleDailyLevel(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := textOnly(s, in)
	if !ok {
		return res, nil
	}
	r := validate.Level(text)
	if !r.OK() {
		return reprompt(levelPrompt(r.Failure.Key, s.Language)), nil
	}

	m.typingFor(ctx, s)
	turn, err := m.backend.DailyAdvice(ctx, m.email(s), s.DailyGreeting, s.DailyNotes, r.Value)
	if err != nil {
		slog.Error("Machine.handleDailyLevel DailyAdvice failed", "userID", s.UserID, "error", err)
		res := apology(s.Language)
		res.Replies[0].Keyboard = [][]string{validate.LevelOptions()}
		return res, nil
	}
	if turn.ThreadID != "" {
		s.ThreadID = turn.ThreadID
	}
	s.DailyGreeting = ""
	s.DailyNotes = ""
	return m.advanceTo(s, models.StateInitialConsultationCompleted, models.Reply{
		Text:           turn.Text,
		RemoveKeyboard: true,
		Markup:         models.MarkupMarkdown,
	})
}

func levelPrompt(key string, lang models.Language) models.Reply {
	return models.Reply{Text: locales.T(key, lang), Keyboard: [][]string{validate.LevelOptions()}}
}
