// Package store provides session storage backends for CoachPipe.
//
// It includes an in-memory store for tests and single-process runs, plus SQLite, PostgreSQL and
// Redis backends. Every backend also records inbound message ids for deduplication, and all but
// Redis keep an outbox of replies that could not be delivered.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrEmptyUserID is returned when a session has no identity.
var ErrEmptyUserID = errors.New("session user id is empty")

// Store is the explicit key-value session store: identity -> session.
type Store interface {
	// GetSession returns the stored session or nil when none exists.
	GetSession(ctx context.Context, userID string) (*models.Session, error)
	SaveSession(ctx context.Context, s models.Session) error
	DeleteSession(ctx context.Context, userID string) error
	ListSessions(ctx context.Context) ([]models.Session, error)
	DedupRepo
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	DSN           string // SQLite file path or PostgreSQL connection string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	DedupTTL      time.Duration
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN selects a SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN selects a PostgreSQL database.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisAddr selects a Redis server (host:port).
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// WithRedisPassword sets the Redis AUTH password.
func WithRedisPassword(password string) Option {
	return func(o *Opts) { o.RedisPassword = password }
}

// WithRedisDB selects the Redis logical database.
func WithRedisDB(db int) Option {
	return func(o *Opts) { o.RedisDB = db }
}

// WithKeyPrefix overrides the Redis key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// WithDedupTTL sets how long Redis remembers inbound message ids.
func WithDedupTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.DedupTTL = ttl }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and "sqlite3" otherwise, matching the database/sql driver names.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New builds the backend selected by opts: Redis when an address is set, then PostgreSQL or
// SQLite by DSN shape, and the in-memory store when nothing is configured.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.RedisAddr != "":
		slog.Debug("store.New: using Redis store", "addr", cfg.RedisAddr)
		return NewRedisStore(opts...)
	case cfg.DSN == "":
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		slog.Debug("store.New: using PostgreSQL store")
		return NewPostgresStore(opts...)
	default:
		slog.Debug("store.New: using SQLite store", "path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore keeps sessions in a map. Data is lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	dedup    map[string]DedupRecord
	outbox   map[string]OutboxMessage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		dedup:    make(map[string]DedupRecord),
		outbox:   make(map[string]OutboxMessage),
	}
}

func (s *InMemoryStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, sess models.Session) error {
	if sess.UserID == "" {
		return ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = *sess.Clone()
	return nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *InMemoryStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ParticipantID: participantID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return fmt.Errorf("unknown inbound message %s", messageID)
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
