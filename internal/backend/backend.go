// Package backend selects and opens a message store by name.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Steven-Chan/chat/internal/kvstore"
	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
	"github.com/Steven-Chan/chat/internal/store"
)

// Backend names accepted by Open.
const (
	SQLite = "sqlite"
	Pebble = "pebble"
)

// Names lists the supported backends.
var Names = []string{SQLite, Pebble}

// Store is the surface shared by every message store.
type Store interface {
	link.Registrar
	link.BulkStore

	Insert(ctx context.Context, rec record.Record) (record.Record, error)
	Import(ctx context.Context, recs []record.Record) (int, error)
	ReadMessage(ctx context.Context, id string) (record.Record, error)
	ReadConversation(ctx context.Context, conversation string) ([]record.Record, error)
	ReadAll(ctx context.Context) ([]record.Record, error)
	Conversations(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ Store = (*store.Store)(nil)
	_ Store = (*kvstore.Store)(nil)
)

// Options selects and configures a backend.
type Options struct {
	// Backend is SQLite or Pebble.
	Backend string

	// Path is the SQLite file or Pebble directory. ":memory:" keeps the
	// store in memory for either backend.
	Path string

	// StreamedBackfill forces SQLite to backfill through the ordered scan.
	// Pebble always streams.
	StreamedBackfill bool

	Logger *slog.Logger
}

// Open opens the selected backend. It does not register any insert hook.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case SQLite, "":
		sopts := []store.Option{store.WithLogger(opts.Logger)}
		if opts.StreamedBackfill {
			sopts = append(sopts, store.WithStreamedBackfill())
		}
		s, err := store.Open(opts.Path, sopts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case Pebble:
		s, err := kvstore.Open(opts.Path, kvstore.WithLogger(opts.Logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want one of %v)", opts.Backend, Names)
	}
}

// OpenLinked opens the selected backend and registers the insert-time
// linker on it.
func OpenLinked(opts Options, linkOpts ...link.Option) (Store, error) {
	s, err := Open(opts)
	if err != nil {
		return nil, err
	}
	link.NewLinker(linkOpts...).Register(s)
	return s, nil
}

// IsNotFound reports whether err is a missing-message error from any backend.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, kvstore.ErrNotFound)
}
