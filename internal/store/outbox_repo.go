package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/util"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage is a batch of replies to one user that could not be delivered on the first try.
// Replies are sent in order; a partial failure keeps only the unsent tail.
type OutboxMessage struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Replies       []models.Reply `json:"replies"`
	Status        OutboxStatus   `json:"status"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	LockedAt      *time.Time     `json:"locked_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// OutboxRepo persists undelivered replies so they survive a restart.
type OutboxRepo interface {
	// EnqueueReplies stores replies for a later delivery attempt and returns the message id.
	EnqueueReplies(ctx context.Context, userID string, replies []models.Reply) (string, error)

	// HasPendingReplies reports whether userID has a queued or sending message.
	HasPendingReplies(ctx context.Context, userID string) (bool, error)

	// ClaimDueOutbox marks up to limit queued messages whose next attempt is due as sending
	// and returns them, oldest first. Only a user's oldest pending message is claimable, so one
	// user's messages go out in the order they were queued.
	ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxSent marks a message as delivered.
	MarkOutboxSent(ctx context.Context, id string) error

	// FailOutbox records a failed attempt. remaining replaces the stored replies. With final
	// set the message is parked as failed, otherwise it is queued again for nextAttemptAt.
	FailOutbox(ctx context.Context, id string, remaining []models.Reply, errMsg string, nextAttemptAt time.Time, final bool) error

	// RequeueStaleOutbox resets messages stuck in sending since before staleBefore.
	RequeueStaleOutbox(ctx context.Context, staleBefore time.Time) (int, error)
}

// outboxHeadCondition restricts a query over outbox_messages aliased m to each user's oldest
// pending message.
const outboxHeadCondition = `NOT EXISTS (
	SELECT 1 FROM outbox_messages o
	WHERE o.user_id = m.user_id AND o.status IN ('queued', 'sending')
	  AND (o.created_at < m.created_at OR (o.created_at = m.created_at AND o.id < m.id))
)`

func newOutboxID() string {
	return "outbox_" + util.GenerateRandomHex(32)
}

func encodeReplies(replies []models.Reply) (string, error) {
	data, err := json.Marshal(replies)
	if err != nil {
		return "", fmt.Errorf("marshal outbox replies: %w", err)
	}
	return string(data), nil
}

func decodeReplies(payload string) ([]models.Reply, error) {
	var replies []models.Reply
	if payload == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(payload), &replies); err != nil {
		return nil, fmt.Errorf("unmarshal outbox replies: %w", err)
	}
	return replies, nil
}

// sortOutbox orders messages oldest first, ties by id. RETURNING gives no ordering guarantee.
func sortOutbox(msgs []OutboxMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
