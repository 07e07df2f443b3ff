// Package flow drives the coaching conversation: registration, profile submission,
// consultation relay and the scheduler hooks.
package flow

import (
	"context"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// SessionManager loads and persists sessions.
type SessionManager interface {
	// Load returns the stored session or nil when the user has none.
	Load(ctx context.Context, userID string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Reset(ctx context.Context, userID string) error
}

// Backend is the consultation and profile API.
type Backend interface {
	UpsertUser(ctx context.Context, reg models.Registration) error
	UpsertProfile(ctx context.Context, email string, profile models.ProfileRecord) error
	GetProfile(ctx context.Context, email string) (*models.RemoteProfile, error)
	StartChat(ctx context.Context, email string) (models.ChatTurn, error)
	SendMessage(ctx context.Context, email, threadID, text string) (models.ChatTurn, error)
	CompleteChat(ctx context.Context, email, threadID string) (models.ChatTurn, error)
	DailyAdvice(ctx context.Context, email, greeting, notes string, level int) (models.ChatTurn, error)
	AdvicePieceCount(ctx context.Context, email string) (int, error)
	NextAdvicePiece(ctx context.Context, email string) (string, error)
}

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string, lang models.Language) (string, error)
}

// TypingNotifier shows a "typing" indicator to the user while a backend call runs.
type TypingNotifier interface {
	SendTyping(ctx context.Context, to string) error
}

// Sender delivers replies to a user.
type Sender interface {
	TypingNotifier
	SendReply(ctx context.Context, to string, reply models.Reply) error
}

// ReplyQueue keeps replies that could not be delivered for a later retry. Queued replies of
// one user are delivered oldest first.
type ReplyQueue interface {
	EnqueueReplies(ctx context.Context, userID string, replies []models.Reply) (string, error)
	// HasPendingReplies reports whether userID has queued replies not yet delivered.
	HasPendingReplies(ctx context.Context, userID string) (bool, error)
}

// HookScheduler registers and removes the recurring hooks of one user.
type HookScheduler interface {
	Enroll(userID string, hook models.HookKind) error
	Cancel(userID string, hook models.HookKind)
}
