package store

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

var _ OutboxRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) EnqueueReplies(ctx context.Context, userID string, replies []models.Reply) (string, error) {
	now := time.Now()
	msg := OutboxMessage{
		ID:        newOutboxID(),
		UserID:    userID,
		Replies:   append([]models.Reply(nil), replies...),
		Status:    OutboxStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[msg.ID] = msg
	return msg.ID, nil
}

func (s *InMemoryStore) HasPendingReplies(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.outbox {
		if m.UserID == userID && (m.Status == OutboxStatusQueued || m.Status == OutboxStatusSending) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued || m.Status == OutboxStatusSending {
			pending = append(pending, m)
		}
	}
	sortOutbox(pending)
	var due []OutboxMessage
	seen := make(map[string]bool)
	for _, m := range pending {
		head := !seen[m.UserID]
		seen[m.UserID] = true
		if !head || m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, m)
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		locked := now
		due[i].Status = OutboxStatusSending
		due[i].LockedAt = &locked
		due[i].UpdatedAt = now
		s.outbox[due[i].ID] = due[i]
		due[i].Replies = append([]models.Reply(nil), due[i].Replies...)
	}
	return due, nil
}

func (s *InMemoryStore) MarkOutboxSent(ctx context.Context, id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) FailOutbox(ctx context.Context, id string, remaining []models.Reply, errMsg string, nextAttemptAt time.Time, final bool) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		if final {
			m.Status = OutboxStatusFailed
		}
		m.Replies = append([]models.Reply(nil), remaining...)
		m.Attempts++
		m.LastError = errMsg
		next := nextAttemptAt
		m.NextAttemptAt = &next
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleOutbox(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}

// OutboxMessage returns a copy of a stored outbox message. It exists for tests and the admin API.
func (s *InMemoryStore) OutboxMessage(id string) (OutboxMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.outbox[id]
	return m, ok
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("unknown outbox message %s", id)
	}
	fn(&m)
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}
