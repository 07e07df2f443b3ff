package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrMissingThread means a relay was attempted before any consultation thread existed.
var ErrMissingThread = errors.New("session has no consultation thread")

func completionKeyboard(lang models.Language) [][]string {
	return [][]string{{locales.T(locales.KeyCompleteConsultation, lang)}}
}

// startConsultation opens a backend thread for a session resting in completed. On failure the
// session stays in completed so the next message retries; res keeps its Kind.
func (m *Machine) startConsultation(ctx context.Context, s *models.Session, res Result) (Result, error) {
	email := m.email(s)
	if p, err := m.backend.GetProfile(ctx, email); err != nil {
		slog.Warn("Machine.startConsultation GetProfile failed, keeping session language", "userID", s.UserID, "error", err)
	} else if p != nil && p.PreferredLang.IsSupported() {
		s.Language = p.PreferredLang
	}

	m.typingFor(ctx, s)
	turn, err := m.backend.StartChat(ctx, email)
	if err != nil {
		slog.Error("Machine.startConsultation StartChat failed", "userID", s.UserID, "error", err)
		res.reply(models.Reply{Text: locales.T(locales.KeyGenericError, s.Language)})
		return res, nil
	}
	s.ThreadID = turn.ThreadID
	if err := m.move(s, models.StateConsulting); err != nil {
		return Result{}, err
	}
	res.Kind = Advance
	res.reply(models.Reply{
		Text:     turn.Text,
		Keyboard: completionKeyboard(s.Language),
		Markup:   models.MarkupMarkdown,
	})
	slog.Info("Machine.startConsultation started", "userID", s.UserID, "threadID", s.ThreadID)
	return res, nil
}

// handleCompleted retries the consultation start for any accepted input.
func (m *Machine) handleCompleted(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	if in.Kind != models.ContentText && in.Kind != models.ContentVoice {
		return rejected(s.Language), nil
	}
	return m.startConsultation(ctx, s, Result{Kind: Reprompt})
}

func (m *Machine) handleConsulting(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	if in.Kind == models.ContentText && in.Text == locales.T(locales.KeyCompleteConsultation, s.Language) {
		return m.completeConsultation(ctx, s)
	}
	text, res, ok := m.textOrVoice(ctx, s, in)
	if !ok {
		return res, nil
	}
	return m.relay(ctx, s, text, completionKeyboard(s.Language))
}

func (m *Machine) completeConsultation(ctx context.Context, s *models.Session) (Result, error) {
	if s.ThreadID == "" {
		slog.Error("Machine.completeConsultation", "userID", s.UserID, "error", ErrMissingThread)
		return apology(s.Language), nil
	}
	m.typingFor(ctx, s)
	turn, err := m.backend.CompleteChat(ctx, m.email(s), s.ThreadID)
	if err != nil {
		slog.Error("Machine.completeConsultation CompleteChat failed", "userID", s.UserID, "error", err)
		return apology(s.Language), nil
	}
	res, err := m.advanceTo(s, models.StateInitialConsultationCompleted, models.Reply{
		Text:           turn.Text,
		RemoveKeyboard: true,
		Markup:         models.MarkupMarkdown,
	})
	if err != nil {
		return Result{}, err
	}
	s.AdviceEnrolled = true
	s.DailyCheckEnrolled = true
	res.Enroll = []models.HookKind{models.HookAdvice, models.HookDailyCheck}
	slog.Info("Machine.completeConsultation completed", "userID", s.UserID, "threadID", s.ThreadID)
	return res, nil
}

// handleFallback relays free text on the existing thread without the completion keyboard.
func (m *Machine) handleFallback(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := m.textOrVoice(ctx, s, in)
	if !ok {
		return res, nil
	}
	return m.relay(ctx, s, text, nil)
}

func (m *Machine) relay(ctx context.Context, s *models.Session, text string, kbd [][]string) (Result, error) {
	if s.ThreadID == "" {
		slog.Error("Machine.relay", "userID", s.UserID, "state", s.State, "error", ErrMissingThread)
		return apology(s.Language), nil
	}
	m.typingFor(ctx, s)
	turn, err := m.backend.SendMessage(ctx, m.email(s), s.ThreadID, text)
	if err != nil {
		slog.Error("Machine.relay SendMessage failed", "userID", s.UserID, "error", err)
		return apology(s.Language), nil
	}
	return reprompt(models.Reply{Text: turn.Text, Keyboard: kbd, Markup: models.MarkupMarkdown}), nil
}
