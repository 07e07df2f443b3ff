package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

var _ OutboxRepo = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueReplies(ctx context.Context, userID string, replies []models.Reply) (string, error) {
	payload, err := encodeReplies(replies)
	if err != nil {
		return "", err
	}
	id := newOutboxID()
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outbox_messages (id, user_id, payload_json, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, 'queued', 0, $4, $4)`,
		id, userID, payload, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueReplies", "id", id, "userID", userID, "replies", len(replies))
	return id, nil
}

func (s *PostgresStore) HasPendingReplies(ctx context.Context, userID string) (bool, error) {
	var pending bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM outbox_messages WHERE user_id = $1 AND status IN ('queued', 'sending'))`, userID,
	).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("check pending outbox failed: %w", err)
	}
	return pending, nil
}

// ClaimDueOutbox uses SKIP LOCKED so several instances can drain one table.
func (s *PostgresStore) ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE outbox_messages SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT m.id FROM outbox_messages m
		   WHERE m.status = 'queued' AND (m.next_attempt_at IS NULL OR m.next_attempt_at <= $1)
		     AND `+outboxHeadCondition+`
		   ORDER BY m.created_at ASC LIMIT $2
		   FOR UPDATE OF m SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	msgs, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}
	sortOutbox(msgs)
	return msgs, nil
}

func (s *PostgresStore) MarkOutboxSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = $1 WHERE id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailOutbox(ctx context.Context, id string, remaining []models.Reply, errMsg string, nextAttemptAt time.Time, final bool) error {
	payload, err := encodeReplies(remaining)
	if err != nil {
		return err
	}
	status := OutboxStatusQueued
	if final {
		status = OutboxStatusFailed
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = $1, payload_json = $2, attempts = attempts + 1, last_error = $3,
		 next_attempt_at = $4, locked_at = NULL, updated_at = $5 WHERE id = $6`,
		string(status), payload, errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleOutbox(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleOutbox", "requeued", n)
	}
	return int(n), nil
}
