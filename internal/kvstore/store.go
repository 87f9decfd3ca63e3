package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// MemoryPath opens an in-memory store.
const MemoryPath = ":memory:"

// Store keeps messages in a Pebble database.
//
// Thread-safety: Store is safe for concurrent use.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
	clock  *seqClock

	// bulk is held shared by inserts and exclusively by bulk scopes.
	bulk sync.RWMutex
	// Lock order: conversation, then id.
	conversations keyLocks
	ids           keyLocks

	mu    sync.RWMutex
	hooks map[string]link.Hook
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens or creates a Pebble database in the directory at path.
// MemoryPath keeps everything in memory.
func Open(path string, opts ...Option) (*Store, error) {
	pebbleOpts := &pebble.Options{}
	if path == MemoryPath {
		pebbleOpts.FS = vfs.NewMem()
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		hooks:  make(map[string]link.Hook),
	}
	for _, opt := range opts {
		opt(s)
	}

	maxSeq, err := s.maxSeq()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to recover sequence: %w", err)
	}
	s.clock = newSeqClockAt(maxSeq)
	s.logger.Debug("pebble store opened", "path", path, "max_seq", maxSeq)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RegisterInsertHook installs hook on the insert path under name.
// Registering an existing name replaces its hook.
func (s *Store) RegisterInsertHook(name string, hook link.Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[name] = hook
}

// InsertHooks returns the registered hook names in sorted order.
func (s *Store) InsertHooks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.hooks))
	for name := range s.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) insertHooks() []link.Hook {
	names := s.InsertHooks()
	s.mu.RLock()
	defer s.mu.RUnlock()
	hooks := make([]link.Hook, 0, len(names))
	for _, name := range names {
		if h, ok := s.hooks[name]; ok {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

// maxSeq scans every message key for the greatest seq.
func (s *Store) maxSeq() (int64, error) {
	var highest int64
	err := s.scan(s.db, nil, func(k parsedKey, _ []byte) error {
		if k.seq > highest {
			highest = k.seq
		}
		return nil
	})
	return highest, err
}

// reader is implemented by *pebble.DB and *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// scan visits every message key in [lower, upper) order. nil bounds mean
// all messages.
func (s *Store) scan(r reader, bounds *pebble.IterOptions, fn func(parsedKey, []byte) error) error {
	if bounds == nil {
		bounds = &pebble.IterOptions{
			LowerBound: []byte(messagePrefix),
			UpperBound: prefixEnd([]byte(messagePrefix)),
		}
	}
	iter, err := r.NewIter(bounds)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k, err := parseMessageKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(k, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func getRecord(r reader, key []byte) (record.Record, error) {
	v, closer, err := r.Get(key)
	if err != nil {
		return record.Record{}, err
	}
	defer closer.Close()
	return decodeRecord(v)
}

func encodeRecord(rec record.Record) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(v []byte) (record.Record, error) {
	var rec record.Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return record.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// kvErr classifies a Pebble error. Context errors and classified errors
// pass through; everything else marks the store unavailable.
func kvErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *link.Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return link.Unavailable(op, err)
}
