package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stage tracks where a booking conversation stands.
type Stage string

const (
	StageAwaitingService Stage = "awaiting_service"
	StageAwaitingTime    Stage = "awaiting_time"
)

// Draft is the in-progress booking collected across messages. It lives in
// Redis keyed by the customer's number so a conversation can resume on any
// API instance.
type Draft struct {
	Service string `json:"service"`
	Stage   Stage  `json:"stage"`
}

const draftKeyPrefix = "wa:draft:"

// SessionStore persists conversation drafts with a TTL so abandoned
// conversations expire on their own.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Get loads the draft for a sender. The second return reports whether a
// draft exists.
func (s *SessionStore) Get(ctx context.Context, sender string) (Draft, bool, error) {
	raw, err := s.rdb.Get(ctx, draftKeyPrefix+sender).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("session get: %w", err)
	}
	var draft Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return Draft{}, false, fmt.Errorf("session decode: %w", err)
	}
	return draft, true, nil
}

func (s *SessionStore) Put(ctx context.Context, sender string, draft Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, draftKeyPrefix+sender, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sender string) error {
	if err := s.rdb.Del(ctx, draftKeyPrefix+sender).Err(); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}
