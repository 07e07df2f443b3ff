package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/CoachPipe/internal/backend"
	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/validate"
)

func (m *Machine) handleLanguage(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := textOnly(s, in)
	if !ok {
		return res, nil
	}
	r := validate.Language(text)
	if !r.OK() {
		return reprompt(models.Reply{Text: r.Failure.Message(models.LanguageEnglish), Keyboard: locales.LanguageKeyboard()}), nil
	}
	lang := r.Value

	reg := models.Registration{
		Email:         m.email(s),
		Password:      backend.GeneratePassword(),
		FullName:      displayName(s),
		ExternalID:    s.UserID,
		PreferredLang: lang,
	}
	if err := m.backend.UpsertUser(ctx, reg); err != nil {
		slog.Error("Machine.handleLanguage UpsertUser failed", "userID", s.UserID, "error", err)
		res := apology(lang)
		res.Replies[0].Keyboard = locales.LanguageKeyboard()
		return res, nil
	}
	s.Language = lang

	if m.birthDate {
		opts := validate.ProfileOrSkipOptions(lang)
		return m.advanceTo(s, models.StateProfileOrSkip, models.Reply{
			Text:     locales.T(locales.KeyProfileOrSkip, lang),
			Keyboard: keyboard(validate.Labels(opts)...),
		})
	}
	return m.advanceTo(s, models.StateSex, sexPrompt(lang))
}

func (m *Machine) handleProfileOrSkip(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := textOnly(s, in)
	if !ok {
		return res, nil
	}
	opts := validate.ProfileOrSkipOptions(s.Language)
	r := validate.Choice(text, opts, locales.KeyYesOrNo)
	if !r.OK() {
		return reprompt(models.Reply{Text: r.Failure.Message(s.Language), Keyboard: keyboard(validate.Labels(opts)...)}), nil
	}
	if r.Value {
		return m.advanceTo(s, models.StateBirthDate, models.Reply{
			Text:           locales.T(locales.KeyBirthDate, s.Language),
			RemoveKeyboard: true,
		})
	}
	if err := m.move(s, models.StateCompleted); err != nil {
		return Result{}, err
	}
	return m.finishRegistration(ctx, s, nil)
}

func (m *Machine) handleBirthDate(_ context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := textOnly(s, in)
	if !ok {
		return res, nil
	}
	r := validate.PastDate(text, m.now())
	if !r.OK() {
		return reprompt(models.Reply{Text: r.Failure.Message(s.Language)}), nil
	}
	s.SetAnswer(models.FieldBirthDate, r.Value.Format("2006-01-02"))
	return m.advanceTo(s, models.StateSex, sexPrompt(s.Language))
}

func (m *Machine) handleSex(_ context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := textOnly(s, in)
	if !ok {
		return res, nil
	}
	r := validate.Choice(text, validate.SexOptions(s.Language), locales.KeyYesOrNo)
	if !r.OK() {
		prompt := sexPrompt(s.Language)
		prompt.Text = r.Failure.Message(s.Language)
		return reprompt(prompt), nil
	}
	s.SetAnswer(models.FieldSex, r.Value)
	return m.advanceTo(s, models.StateHeight, heightPrompt(s.Language, r.Value))
}

func (m *Machine) handleHeight(_ context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := textOnly(s, in)
	if !ok {
		return res, nil
	}
	sex, _ := s.Answer(models.FieldSex)
	r := validate.Height(text, s.Language, sex)
	if !r.OK() {
		prompt := heightPrompt(s.Language, sex)
		prompt.Text = r.Failure.Message(s.Language)
		return reprompt(prompt), nil
	}
	s.SetAnswer(models.FieldHeight, strconv.Itoa(r.Value))
	return m.advanceTo(s, models.StateMass, massPrompt(s.Language))
}

func (m *Machine) handleMass(_ context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := textOnly(s, in)
	if !ok {
		return res, nil
	}
	heightCM := 0
	if h, ok := s.Answer(models.FieldHeight); ok {
		heightCM, _ = strconv.Atoi(h)
	}
	r := validate.Mass(text, s.Language, heightCM)
	if !r.OK() {
		if errors.Is(r.Failure.Err, validate.ErrHeightRequired) {
			return reprompt(models.Reply{Text: r.Failure.Message(s.Language), RemoveKeyboard: true}), nil
		}
		prompt := massPrompt(s.Language)
		prompt.Text = r.Failure.Message(s.Language)
		return reprompt(prompt), nil
	}
	s.SetAnswer(models.FieldMass, strconv.Itoa(r.Value))
	return m.advanceTo(s, models.StateEatsMeat, yesNoPrompt(locales.KeyEatsMeat, s.Language))
}

// eatsStep is one question of the eats triad. The last one removes the keyboard because the
// next prompt asks for free text.
type eatsStep struct {
	field     models.Field
	next      models.StateType
	nextKey   string
	removeKbd bool
}

func (e eatsStep) handler(m *Machine) stateHandler {
	return func(_ context.Context, s *models.Session, in UserInput) (Result, error) {
		text, res, ok := textOnly(s, in)
		if !ok {
			return res, nil
		}
		r := validate.Choice(text, validate.YesNoOptions(s.Language), locales.KeyYesOrNo)
		if !r.OK() {
			prompt := yesNoPrompt(locales.KeyYesOrNo, s.Language)
			return reprompt(prompt), nil
		}
		s.SetAnswer(e.field, strconv.FormatBool(r.Value))
		if e.removeKbd {
			return m.advanceTo(s, e.next, models.Reply{Text: locales.T(e.nextKey, s.Language), RemoveKeyboard: true})
		}
		return m.advanceTo(s, e.next, yesNoPrompt(e.nextKey, s.Language))
	}
}

func (m *Machine) handleDescription(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	text, res, ok := m.textOrVoice(ctx, s, in)
	if !ok {
		return res, nil
	}
	s.SetAnswer(models.FieldDescription, text)
	if err := m.move(s, models.StateCompleted); err != nil {
		return Result{}, err
	}
	return m.finishRegistration(ctx, s, []models.Reply{{Text: locales.T(locales.KeySavingInfo, s.Language)}})
}

func sexPrompt(lang models.Language) models.Reply {
	return models.Reply{
		Text:     locales.T(locales.KeySex, lang),
		Keyboard: keyboard(validate.Labels(validate.SexOptions(lang))...),
	}
}

func heightPrompt(lang models.Language, sex string) models.Reply {
	return models.Reply{
		Text:     locales.T(locales.KeyHeight, lang),
		Keyboard: keyboard(validate.Labels(validate.HeightQuickPicks(lang, sex))...),
	}
}

func massPrompt(lang models.Language) models.Reply {
	return models.Reply{
		Text:     locales.T(locales.KeyMass, lang),
		Keyboard: keyboard(validate.Labels(validate.MassQuickPicks(lang))...),
	}
}

func yesNoPrompt(key string, lang models.Language) models.Reply {
	return models.Reply{
		Text:     locales.T(key, lang),
		Keyboard: [][]string{validate.Labels(validate.YesNoOptions(lang))},
	}
}

// displayName is the user's full name as the transport reported it.
func displayName(s *models.Session) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.FirstName
}

// firstName is what the profile is addressed by.
func firstName(s *models.Session) string {
	if s.FirstName != "" {
		return s.FirstName
	}
	return s.DisplayName
}
