package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

var errBackendDown = errors.New("backend down")

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	upsertUserErr    error
	upsertProfileErr error
	startErr         error
	sendErr          error
	completeErr      error
	dailyErr         error
	countErr         error

	profiles     []models.ProfileRecord
	users        []models.Registration
	remoteLang   models.Language
	profileErr   error
	threadID     string
	sentTexts    []string
	sentThreads  []string
	adviceCount  int
	advicePiece  string
	dailyArgs    []any
	dailyThread  string
	startText    string
	replyText    string
	completeText string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		threadID:     "thread-1",
		startText:    "Let's *start*",
		replyText:    "relayed",
		completeText: "Summary",
		advicePiece:  "Drink water",
		dailyThread:  "thread-daily",
	}
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeBackend) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeBackend) UpsertUser(_ context.Context, reg models.Registration) error {
	f.record("UpsertUser")
	f.users = append(f.users, reg)
	return f.upsertUserErr
}

func (f *fakeBackend) UpsertProfile(_ context.Context, _ string, p models.ProfileRecord) error {
	f.record("UpsertProfile")
	if f.upsertProfileErr != nil {
		return f.upsertProfileErr
	}
	f.profiles = append(f.profiles, p)
	return nil
}

func (f *fakeBackend) GetProfile(_ context.Context, _ string) (*models.RemoteProfile, error) {
	f.record("GetProfile")
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.remoteLang == "" {
		return nil, errors.New("not found")
	}
	return &models.RemoteProfile{PreferredLang: f.remoteLang}, nil
}

func (f *fakeBackend) StartChat(_ context.Context, _ string) (models.ChatTurn, error) {
	f.record("StartChat")
	if f.startErr != nil {
		return models.ChatTurn{}, f.startErr
	}
	return models.ChatTurn{ThreadID: f.threadID, Text: f.startText}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, _, threadID, text string) (models.ChatTurn, error) {
	f.record("SendMessage")
	if f.sendErr != nil {
		return models.ChatTurn{}, f.sendErr
	}
	f.sentTexts = append(f.sentTexts, text)
	f.sentThreads = append(f.sentThreads, threadID)
	return models.ChatTurn{Text: f.replyText}, nil
}

func (f *fakeBackend) CompleteChat(_ context.Context, _, _ string) (models.ChatTurn, error) {
	f.record("CompleteChat")
	if f.completeErr != nil {
		return models.ChatTurn{}, f.completeErr
	}
	return models.ChatTurn{Text: f.completeText}, nil
}

func (f *fakeBackend) DailyAdvice(_ context.Context, _, greeting, notes string, level int) (models.ChatTurn, error) {
	f.record("DailyAdvice")
	if f.dailyErr != nil {
		return models.ChatTurn{}, f.dailyErr
	}
	f.dailyArgs = []any{greeting, notes, level}
	return models.ChatTurn{ThreadID: f.dailyThread, Text: "Daily advice"}, nil
}

func (f *fakeBackend) AdvicePieceCount(_ context.Context, _ string) (int, error) {
	f.record("AdvicePieceCount")
	return f.adviceCount, f.countErr
}

func (f *fakeBackend) NextAdvicePiece(_ context.Context, _ string) (string, error) {
	f.record("NextAdvicePiece")
	return f.advicePiece, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	langs []models.Language
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string, lang models.Language) (string, error) {
	f.langs = append(f.langs, lang)
	return f.text, f.err
}

type sentReply struct {
	to    string
	reply models.Reply
}

type fakeSender struct {
	mu      sync.Mutex
	replies []sentReply
	typing  int
	err     error
}

func (f *fakeSender) SendReply(_ context.Context, to string, r models.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.replies = append(f.replies, sentReply{to: to, reply: r})
	return nil
}

func (f *fakeSender) SendTyping(_ context.Context, _ string) error {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
	return nil
}

type fakeHooks struct {
	mu       sync.Mutex
	enrolled map[string][]models.HookKind
	canceled map[string][]models.HookKind
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{enrolled: map[string][]models.HookKind{}, canceled: map[string][]models.HookKind{}}
}

func (f *fakeHooks) Enroll(userID string, hook models.HookKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrolled[userID] = append(f.enrolled[userID], hook)
	return nil
}

func (f *fakeHooks) Cancel(userID string, hook models.HookKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled[userID] = append(f.canceled[userID], hook)
}

func newTestMachine(b Backend, opts ...MachineOption) *Machine {
	opts = append([]MachineOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewMachine(b, opts...)
}

// sessionAt returns a session in state with the language set.
func sessionAt(state models.StateType, lang models.Language) *models.Session {
	s := models.NewSession("42", fixedNow)
	s.FirstName = "Ann"
	s.DisplayName = "Ann Lee"
	s.State = state
	s.Language = lang
	return s
}

func text(t string) UserInput {
	return UserInput{Kind: models.ContentText, Text: t}
}

func voice() UserInput {
	return UserInput{Kind: models.ContentVoice, Audio: []byte("OggS"), AudioMIME: "audio/ogg"}
}

func mustHandle(t *testing.T, m *Machine, s *models.Session, ev Event) Result {
	t.Helper()
	res, err := m.Handle(context.Background(), s, ev)
	if err != nil {
		t.Fatalf("Handle(%s, %+v) error: %v", s.State, ev, err)
	}
	return res
}

func lastReply(t *testing.T, res Result) models.Reply {
	t.Helper()
	if len(res.Replies) == 0 {
		t.Fatal("expected at least one reply")
	}
	return res.Replies[len(res.Replies)-1]
}

func tr(key string, lang models.Language) string {
	return locales.T(key, lang)
}

func newTestDispatcher(m *Machine) (*Dispatcher, *store.InMemoryStore, *fakeSender, *fakeHooks) {
	st := store.NewInMemoryStore()
	sender := &fakeSender{}
	hooks := newFakeHooks()
	d := NewDispatcher(m, NewStoreBasedSessionManager(st), sender,
		WithHookScheduler(hooks),
		WithDispatcherClock(func() time.Time { return fixedNow }))
	return d, st, sender, hooks
}
