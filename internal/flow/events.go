package flow

import (
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Event is either user input or a scheduler firing.
type Event interface {
	isEvent()
}

// UserInput is one inbound message.
type UserInput struct {
	Kind      models.ContentKind
	Text      string
	Audio     []byte
	AudioMIME string
}

// TimerFired is a scheduler hook firing for the session's user.
type TimerFired struct {
	Hook models.HookKind
	At   time.Time
}

func (UserInput) isEvent()  {}
func (TimerFired) isEvent() {}

// InputFromInbound converts a transport message into an event.
func InputFromInbound(in models.Inbound) UserInput {
	return UserInput{Kind: in.Kind, Text: in.Text, Audio: in.Audio, AudioMIME: in.AudioMIME}
}

// ResultKind classifies the outcome of handling one event.
type ResultKind int

const (
	// Advance moved the session to a new state.
	Advance ResultKind = iota + 1
	// Reprompt kept the session in place, usually after a validation failure.
	Reprompt
	// Terminal ended in a resting state (completed or after the consultation).
	Terminal
	// Rejected means the content type is not accepted here.
	Rejected
)

func (k ResultKind) String() string {
	switch k {
	case Advance:
		return "advance"
	case Reprompt:
		return "reprompt"
	case Terminal:
		return "terminal"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is what the machine decided for one event. The session passed to Handle already
// reflects the new state and answers.
type Result struct {
	Kind    ResultKind
	Replies []models.Reply
	Enroll  []models.HookKind
	Cancel  []models.HookKind
}

func (r *Result) reply(rs ...models.Reply) {
	r.Replies = append(r.Replies, rs...)
}

func isRestingState(st models.StateType) bool {
	return st == models.StateCompleted || st == models.StateInitialConsultationCompleted
}
