package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// buildProfile turns the collected answers into a backend record. When any of the required
// fields is missing the minimal record is returned. An error means a stored answer could not be
// converted; the caller must not submit anything.
func buildProfile(s *models.Session, required []models.Field) (models.ProfileRecord, error) {
	rec := models.ProfileRecord{PreferredLang: s.Language, Name: firstName(s)}
	rec.Description, _ = s.Answer(models.FieldDescription)

	for _, f := range required {
		if _, ok := s.Answer(f); !ok {
			return rec, nil
		}
	}

	rec.BirthDate, _ = s.Answer(models.FieldBirthDate)
	rec.Sex, _ = s.Answer(models.FieldSex)

	rawMass, _ := s.Answer(models.FieldMass)
	mass, err := strconv.Atoi(rawMass)
	if err != nil {
		return models.ProfileRecord{}, fmt.Errorf("mass %q: %w", rawMass, err)
	}
	rawHeight, _ := s.Answer(models.FieldHeight)
	height, err := strconv.Atoi(rawHeight)
	if err != nil {
		return models.ProfileRecord{}, fmt.Errorf("height %q: %w", rawHeight, err)
	}
	rec.Mass = &mass
	rec.Height = &height

	for _, b := range []struct {
		field models.Field
		dst   **bool
	}{
		{models.FieldEatsMeat, &rec.EatsMeat},
		{models.FieldEatsFish, &rec.EatsFish},
		{models.FieldEatsDairy, &rec.EatsDairy},
	} {
		raw, _ := s.Answer(b.field)
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return models.ProfileRecord{}, fmt.Errorf("%s %q: %w", b.field, raw, err)
		}
		*b.dst = &v
	}
	return rec, nil
}

// finishRegistration submits the profile for a session that just reached completed and chains
// into the consultation start.
func (m *Machine) finishRegistration(ctx context.Context, s *models.Session, replies []models.Reply) (Result, error) {
	rec, err := buildProfile(s, m.Fields())
	if err != nil {
		slog.Error("Machine.finishRegistration invalid answers", "userID", s.UserID, "error", err)
		return m.profileRetry(s, replies), nil
	}

	m.typingFor(ctx, s)
	if err := m.backend.UpsertProfile(ctx, m.email(s), rec); err != nil {
		slog.Error("Machine.finishRegistration UpsertProfile failed", "userID", s.UserID, "error", err)
		return m.profileRetry(s, replies), nil
	}
	slog.Info("Machine.finishRegistration profile saved", "userID", s.UserID, "minimal", rec.IsMinimal())

	replies = append(replies, models.Reply{Text: locales.T(locales.KeyCompleted, s.Language), RemoveKeyboard: true})
	return m.startConsultation(ctx, s, Result{Kind: Terminal, Replies: replies})
}

// profileRetry discards the answers and returns the session to the language prompt.
func (m *Machine) profileRetry(s *models.Session, replies []models.Reply) Result {
	lang := s.Language
	s.Restart(m.now())
	replies = append(replies, models.Reply{
		Text:     locales.T(locales.KeyProfileRetry, lang),
		Keyboard: locales.LanguageKeyboard(),
	})
	return Result{Kind: Advance, Replies: replies}
}
