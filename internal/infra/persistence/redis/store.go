// Package redis shares a graph document through a Redis hash: one field per
// snapshot bucket, replaced atomically with MULTI/EXEC.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"metagraph/internal/infra/persistence/buckets"
	"metagraph/internal/infra/persistence/memory"
	"metagraph/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultKey is the hash holding the document when none is configured.
const DefaultKey = "metagraph:document"

// Config holds connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store keeps the working document in memory and writes it to Redis after
// each committed transaction.
type Store struct {
	*memory.Store
	client *redis.Client
	key    string
	mu     sync.Mutex
}

// NewStore connects to Redis and hydrates the document from cfg.Key.
func NewStore(ctx context.Context, cfg Config, engine *domain.RulesEngine) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s, err := NewWithClient(ctx, client, cfg.Key, engine)
	if err != nil {
		return nil, errors.Join(err, client.Close())
	}
	return s, nil
}

// NewWithClient wraps an existing client. On error the client is left open
// for the caller to close.
func NewWithClient(ctx context.Context, client *redis.Client, key string, engine *domain.RulesEngine) (*Store, error) {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{Store: memory.NewStore(engine), client: client, key: key}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read %s: %w", s.key, err)
	}
	if len(fields) == 0 {
		return nil
	}
	payloads := make(map[string][]byte, len(fields))
	for k, v := range fields {
		payloads[k] = []byte(v)
	}
	snapshot, err := buckets.Decode(payloads)
	if err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payloads, err := buckets.Encode(s.ExportState())
	if err != nil {
		return err
	}
	values := make([]any, 0, 2*len(buckets.Names))
	for _, bucket := range buckets.Names {
		values = append(values, bucket, payloads[bucket])
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", s.key, err)
	}
	return nil
}

// RunInTransaction applies fn and writes the committed document.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Restore replaces the document and writes it through.
func (s *Store) Restore(ctx context.Context, snapshot domain.Snapshot) error {
	s.ImportState(snapshot)
	return s.persist(ctx)
}

// Key returns the hash key holding the document.
func (s *Store) Key() string { return s.key }

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }
