package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/backend"
	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrLanguageNotSet means a session left the language prompt without a language.
var ErrLanguageNotSet = errors.New("session language is not set")

// ErrUnknownHook is returned for a TimerFired event with an unknown hook kind.
var ErrUnknownHook = errors.New("unknown hook")

// DefaultChannel is used for the backend dummy e-mail when no channel is configured.
const DefaultChannel = "tg"

type stateHandler func(ctx context.Context, s *models.Session, in UserInput) (Result, error)

// Machine is the conversation state machine. It is stateless between calls: everything it
// needs is on the session passed to Handle.
type Machine struct {
	backend     Backend
	transcriber Transcriber
	typing      TypingNotifier
	channel     string
	birthDate   bool
	now         func() time.Time
	handlers    map[models.StateType]stateHandler
	table       *transitionTable
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithBirthDate enables the profile-or-skip and birth date questions after language selection.
func WithBirthDate(enabled bool) MachineOption {
	return func(m *Machine) { m.birthDate = enabled }
}

// WithChannel sets the channel prefix of the backend dummy e-mail, e.g. "tg" or "wa".
func WithChannel(channel string) MachineOption {
	return func(m *Machine) {
		if channel != "" {
			m.channel = channel
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// WithTranscriber enables voice input.
func WithTranscriber(t Transcriber) MachineOption {
	return func(m *Machine) { m.transcriber = t }
}

// WithTypingNotifier sets where typing indicators go before backend calls.
func WithTypingNotifier(t TypingNotifier) MachineOption {
	return func(m *Machine) { m.typing = t }
}

// NewMachine builds the machine and its dispatch table.
func NewMachine(b Backend, opts ...MachineOption) *Machine {
	m := &Machine{
		backend: b,
		channel: DefaultChannel,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.table = newTransitionTable(m.birthDate)
	m.handlers = map[models.StateType]stateHandler{
		models.StateLanguage:        m.handleLanguage,
		models.StateProfileOrSkip:   m.handleProfileOrSkip,
		models.StateBirthDate:       m.handleBirthDate,
		models.StateSex:             m.handleSex,
		models.StateHeight:          m.handleHeight,
		models.StateMass:            m.handleMass,
		models.StateEatsMeat:        eatsStep{models.FieldEatsMeat, models.StateEatsFish, locales.KeyEatsFish, false}.handler(m),
		models.StateEatsFish:        eatsStep{models.FieldEatsFish, models.StateEatsDairy, locales.KeyEatsDairy, false}.handler(m),
		models.StateEatsDairy:       eatsStep{models.FieldEatsDairy, models.StateDescription, locales.KeyDescription, true}.handler(m),
		models.StateDescription:     m.handleDescription,
		models.StateCompleted:       m.handleCompleted,
		models.StateConsulting:      m.handleConsulting,
		models.StateWaitingForNotes: m.handleDailyNotes,
		models.StateWaitingForLevel: m.handleDailyLevel,
	}
	slog.Debug("flow.NewMachine configured", "birthDate", m.birthDate, "channel", m.channel, "voice", m.transcriber != nil)
	return m
}

// Fields returns the questionnaire fields a full profile needs.
func (m *Machine) Fields() []models.Field {
	fields := []models.Field{
		models.FieldSex, models.FieldHeight, models.FieldMass,
		models.FieldEatsMeat, models.FieldEatsFish, models.FieldEatsDairy, models.FieldDescription,
	}
	if m.birthDate {
		fields = append([]models.Field{models.FieldBirthDate}, fields...)
	}
	return fields
}

// TransitionGraph renders the transition table in Graphviz format.
func (m *Machine) TransitionGraph() string {
	return m.table.Graph()
}

// Handle applies one event to the session. The session is mutated in place. A non-nil error
// is a programming error; collaborator failures are answered with the generic apology and
// returned as a Reprompt.
func (m *Machine) Handle(ctx context.Context, s *models.Session, ev Event) (Result, error) {
	if s == nil {
		return Result{}, errors.New("nil session")
	}
	if !s.State.IsValid() {
		return Result{}, fmt.Errorf("session %s has unknown state %q", s.UserID, s.State)
	}
	switch e := ev.(type) {
	case UserInput:
		return m.handleInput(ctx, s, e)
	case TimerFired:
		return m.handleTimer(ctx, s, e)
	default:
		return Result{}, fmt.Errorf("unsupported event %T", ev)
	}
}

func (m *Machine) handleInput(ctx context.Context, s *models.Session, in UserInput) (Result, error) {
	if in.Kind == models.ContentStart {
		return m.Restart(s), nil
	}
	if s.State != models.StateLanguage && !s.Language.IsSupported() {
		return Result{}, fmt.Errorf("%w: user %s in state %s", ErrLanguageNotSet, s.UserID, s.State)
	}
	if in.Kind == models.ContentUnsupported {
		return rejected(s.Language), nil
	}
	handler, ok := m.handlers[s.State]
	if !ok {
		handler = m.handleFallback
	}
	res, err := handler(ctx, s, in)
	if err != nil {
		return Result{}, err
	}
	s.UpdatedAt = m.now()
	return res, nil
}

// Restart clears the session and sends the greeting with the language keyboard.
func (m *Machine) Restart(s *models.Session) Result {
	var res Result
	if s.AdviceEnrolled {
		res.Cancel = append(res.Cancel, models.HookAdvice)
	}
	if s.DailyCheckEnrolled {
		res.Cancel = append(res.Cancel, models.HookDailyCheck)
	}
	s.Restart(m.now())
	res.Kind = Advance
	res.reply(m.greeting(s))
	slog.Info("Machine.Restart", "userID", s.UserID)
	return res
}

func (m *Machine) greeting(s *models.Session) models.Reply {
	name := s.DisplayName
	if name == "" {
		name = s.FirstName
	}
	if name == "" {
		name = s.UserID
	}
	return models.Reply{
		Text:     locales.Tf(locales.KeyGreeting, models.LanguageEnglish, name),
		Keyboard: locales.LanguageKeyboard(),
	}
}

// move checks the edge and sets the new state.
func (m *Machine) move(s *models.Session, to models.StateType) error {
	if err := m.table.Check(s.State, to); err != nil {
		return err
	}
	slog.Debug("Machine.move", "userID", s.UserID, "from", s.State, "to", to)
	s.State = to
	return nil
}

// advanceTo moves the session and builds the matching Result kind.
func (m *Machine) advanceTo(s *models.Session, to models.StateType, replies ...models.Reply) (Result, error) {
	if err := m.move(s, to); err != nil {
		return Result{}, err
	}
	kind := Advance
	if isRestingState(to) {
		kind = Terminal
	}
	return Result{Kind: kind, Replies: replies}, nil
}

func (m *Machine) email(s *models.Session) string {
	return backend.DummyEmail(m.channel, s.UserID)
}

func (m *Machine) typingFor(ctx context.Context, s *models.Session) {
	if m.typing == nil {
		return
	}
	if err := m.typing.SendTyping(ctx, s.UserID); err != nil {
		slog.Debug("Machine typing indicator failed", "userID", s.UserID, "error", err)
	}
}

// textOrVoice extracts text from the input, transcribing voice in the session language. ok is
// false when the content is not accepted; the returned Result then holds the reply.
func (m *Machine) textOrVoice(ctx context.Context, s *models.Session, in UserInput) (string, Result, bool) {
	switch in.Kind {
	case models.ContentText:
		return in.Text, Result{}, true
	case models.ContentVoice:
		if m.transcriber == nil {
			return "", rejected(s.Language), false
		}
		text, err := m.transcriber.Transcribe(ctx, in.Audio, in.AudioMIME, s.Language)
		if err != nil {
			slog.Error("Machine transcription failed", "userID", s.UserID, "error", err)
			return "", apology(s.Language), false
		}
		if text == "" {
			return "", rejected(s.Language), false
		}
		return text, Result{}, true
	default:
		return "", rejected(s.Language), false
	}
}

// textOnly accepts plain text; voice and other content get the unsupported notice.
func textOnly(s *models.Session, in UserInput) (string, Result, bool) {
	if in.Kind != models.ContentText {
		return "", rejected(s.Language), false
	}
	return in.Text, Result{}, true
}

func rejected(lang models.Language) Result {
	return Result{Kind: Rejected, Replies: []models.Reply{{Text: locales.T(locales.KeyUnsupportedContent, lang)}}}
}

func apology(lang models.Language) Result {
	return Result{Kind: Reprompt, Replies: []models.Reply{{Text: locales.T(locales.KeyGenericError, lang)}}}
}

func reprompt(replies ...models.Reply) Result {
	return Result{Kind: Reprompt, Replies: replies}
}

// keyboard lays labels out one per row.
func keyboard(labels ...string) [][]string {
	rows := make([][]string, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, []string{l})
	}
	return rows
}
