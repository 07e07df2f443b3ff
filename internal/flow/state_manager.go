package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// StoreBasedSessionManager implements SessionManager using a Store backend.
type StoreBasedSessionManager struct {
	store store.Store
}

// NewStoreBasedSessionManager creates a SessionManager backed by st.
func NewStoreBasedSessionManager(st store.Store) *StoreBasedSessionManager {
	slog.Debug("Creating StoreBasedSessionManager")
	return &StoreBasedSessionManager{store: st}
}

// Load retrieves the session for userID; nil means the user has none yet.
func (sm *StoreBasedSessionManager) Load(ctx context.Context, userID string) (*models.Session, error) {
	s, err := sm.store.GetSession(ctx, userID)
	if err != nil {
		slog.Error("SessionManager Load error", "error", err, "userID", userID)
		return nil, err
	}
	if s == nil {
		slog.Debug("SessionManager Load not found", "userID", userID)
		return nil, nil
	}
	slog.Debug("SessionManager Load found", "userID", userID, "state", s.State)
	return s, nil
}

// Save persists the session.
func (sm *StoreBasedSessionManager) Save(ctx context.Context, s *models.Session) error {
	if err := sm.store.SaveSession(ctx, *s); err != nil {
		slog.Error("SessionManager Save error", "error", err, "userID", s.UserID, "state", s.State)
		return err
	}
	slog.Debug("SessionManager Save succeeded", "userID", s.UserID, "state", s.State)
	return nil
}

// Reset removes the stored session.
func (sm *StoreBasedSessionManager) Reset(ctx context.Context, userID string) error {
	if err := sm.store.DeleteSession(ctx, userID); err != nil {
		slog.Error("SessionManager Reset error", "error", err, "userID", userID)
		return err
	}
	slog.Info("SessionManager Reset succeeded", "userID", userID)
	return nil
}
