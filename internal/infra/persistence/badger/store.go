// Package badger persists graph documents in an embedded BadgerDB, one key
// per snapshot bucket, written in a single badger transaction.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"metagraph/internal/infra/persistence/buckets"
	"metagraph/internal/infra/persistence/memory"
	"metagraph/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const keyPrefix = "metagraph/state/"

// Options configures the badger backend. An empty Dir opens an in-memory
// database.
type Options struct {
	Dir        string
	SyncWrites bool
	Logger     *zap.Logger
}

// Store keeps the working document in memory and mirrors it into badger
// after each committed transaction.
type Store struct {
	*memory.Store
	db *badger.DB
	mu sync.Mutex
}

type zapBadgerLogger struct{ l *zap.SugaredLogger }

func (z zapBadgerLogger) Errorf(f string, a ...interface{})   { z.l.Errorf(f, a...) }
func (z zapBadgerLogger) Warningf(f string, a ...interface{}) { z.l.Warnf(f, a...) }
func (z zapBadgerLogger) Infof(f string, a ...interface{})    { z.l.Debugf(f, a...) }
func (z zapBadgerLogger) Debugf(f string, a ...interface{})   { z.l.Debugf(f, a...) }

// NewStore opens the database and hydrates the document from it.
func NewStore(opts Options, engine *domain.RulesEngine) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true)
	} else if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(zapBadgerLogger{l: opts.Logger.Named("badger").Sugar()})
	} else {
		bopts = bopts.WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	payloads := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, bucket := range buckets.Names {
			item, err := txn.Get([]byte(keyPrefix + bucket))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			payloads[bucket] = val
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read badger state: %w", err)
	}
	if len(payloads) == 0 {
		return nil
	}
	snapshot, err := buckets.Decode(payloads)
	if err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payloads, err := buckets.Encode(s.ExportState())
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, bucket := range buckets.Names {
			if err := txn.Set([]byte(keyPrefix+bucket), payloads[bucket]); err != nil {
				return fmt.Errorf("set %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// RunInTransaction applies fn and mirrors the committed document.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(); err != nil {
		return res, fmt.Errorf("persist badger: %w", err)
	}
	return res, nil
}

// Restore replaces the document and writes it through.
func (s *Store) Restore(_ context.Context, snapshot domain.Snapshot) error {
	s.ImportState(snapshot)
	return s.persist()
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the badger handle for tooling.
func (s *Store) DB() *badger.DB { return s.db }
