// This file implements a Redis-backed session store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces every Redis key written by the store.
	DefaultKeyPrefix = "coachpipe"
	// DefaultDedupTTL bounds how long inbound message ids are remembered.
	DefaultDedupTTL = 7 * 24 * time.Hour
	// DefaultRedisDialTimeout is the connection timeout used at startup.
	DefaultRedisDialTimeout = 5 * time.Second
)

// RedisStore keeps each session as a JSON value plus a set of known user ids.
type RedisStore struct {
	rdb      goredis.UniversalClient
	prefix   string
	dedupTTL time.Duration
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address not set")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: DefaultRedisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", cfg.RedisAddr)
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Debug("Redis store connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return NewRedisStoreWithClient(rdb, cfg.KeyPrefix, cfg.DedupTTL), nil
}

// NewRedisStoreWithClient wraps an existing client. Empty prefix and zero TTL use the defaults.
func NewRedisStoreWithClient(rdb goredis.UniversalClient, prefix string, dedupTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &RedisStore{rdb: rdb, prefix: prefix, dedupTTL: dedupTTL}
}

func (s *RedisStore) sessionKey(userID string) string {
	return s.prefix + ":session:" + userID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":sessions"
}

func (s *RedisStore) dedupKey(messageID string) string {
	return s.prefix + ":dedup:" + messageID
}

// GetSession retrieves the session for a user, or nil when none is stored.
func (s *RedisStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("get session %s: %w", userID, err)
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	if sess.Answers == nil {
		sess.Answers = make(map[models.Field]string)
	}
	return &sess, nil
}

// SaveSession writes the session and adds it to the index in one transaction.
func (s *RedisStore) SaveSession(ctx context.Context, sess models.Session) error {
	if sess.UserID == "" {
		return ErrEmptyUserID
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.UserID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.UserID), raw, 0)
		pipe.SAdd(ctx, s.indexKey(), sess.UserID)
		return nil
	})
	if err != nil {
		slog.Error("RedisStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	return nil
}

// DeleteSession removes a session and its index entry.
func (s *RedisStore) DeleteSession(ctx context.Context, userID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(userID))
		pipe.SRem(ctx, s.indexKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", userID, err)
	}
	return nil
}

// ListSessions returns all indexed sessions ordered by user id.
func (s *RedisStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	out := make([]models.Session, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			slog.Warn("RedisStore ListSessions: indexed session missing", "userID", ids[i])
			continue
		}
		var sess models.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			slog.Error("RedisStore ListSessions: decode failed", "error", err, "userID", ids[i])
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.dedupKey(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) RecordInbound(ctx context.Context, messageID, participantID string) (bool, error) {
	raw, err := json.Marshal(DedupRecord{MessageID: messageID, ParticipantID: participantID, ReceivedAt: time.Now()})
	if err != nil {
		return false, err
	}
	created, err := s.rdb.SetNX(ctx, s.dedupKey(messageID), raw, s.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return created, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string) error {
	key := s.dedupKey(messageID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	var rec DedupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode dedup record: %w", err)
	}
	now := time.Now()
	rec.ProcessedAt = &now
	raw, err = json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, raw, goredis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
