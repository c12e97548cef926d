// Package redis provides a Redis-backed session store so conversations
// survive restarts and can be shared between processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dkotama/firefly-telegram-assistant/pkg/session"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "assistant:session:"

// Config holds the Redis session store configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires abandoned sessions. Zero keeps them until deleted.
	TTL time.Duration
}

// Store keeps one JSON document per user.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (s *Store) key(userID string) string { return s.prefix + userID }

// Load returns session.ErrNotFound when the key does not exist.
func (s *Store) Load(ctx context.Context, userID string) (*session.Session, error) {
	b, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", userID, err)
	}
	var sess session.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", userID, err)
	}
	return &sess, nil
}

// Save writes the whole session in one SET.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.UserID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.UserID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.UserID, err)
	}
	return nil
}

// Delete removes the user's session.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", userID, err)
	}
	return nil
}

// List scans every session key under the prefix.
func (s *Store) List(ctx context.Context) ([]*session.Session, error) {
	var out []*session.Session
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		userID := iter.Val()[len(s.prefix):]
		sess, err := s.Load(ctx, userID)
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	return out, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
