package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const defaultGCInterval = 10 * time.Minute

// BadgerStore persists values in a BadgerDB directory.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
	logger *zap.Logger

	gcStop chan struct{}
	gcWg   sync.WaitGroup
}

// OpenBadger opens (or creates) a badger database at path.
func OpenBadger(path string, logger *zap.Logger) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("badger store: path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store.badger")

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{sugar: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", path, err)
	}

	s := &BadgerStore{
		db:     db,
		logger: logger,
		gcStop: make(chan struct{}),
	}
	s.startGC(defaultGCInterval)
	return s, nil
}

func (s *BadgerStore) startGC(interval time.Duration) {
	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.gcStop:
				return
			case <-ticker.C:
				for s.db.RunValueLogGC(0.5) == nil {
				}
			}
		}
	}()
}

func (s *BadgerStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger get %q: %w", key, err)
	}
	return string(value), true, nil
}

func (s *BadgerStore) Set(ctx context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Remove(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger remove %q: %w", key, err)
	}
	return nil
}

// Close stops garbage collection and closes the database. It is idempotent.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.gcStop)
	s.gcWg.Wait()
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logging into zap
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.sugar.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.sugar.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.sugar.Debugf(format, args...) }

var _ Store = (*BadgerStore)(nil)
