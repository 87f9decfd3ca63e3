package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/Steven-Chan/chat/internal/record"
)

// ErrNotFound is returned by ReadMessage when no message has the given ID.
var ErrNotFound = errors.New("message not found")

// ReadMessage returns the message with the given ID.
func (s *Store) ReadMessage(ctx context.Context, id string) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	key, closer, err := s.db.Get(indexKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return record.Record{}, fmt.Errorf("read message %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Record{}, kvErr("read message", err)
	}
	key = append([]byte(nil), key...)
	closer.Close()

	rec, err := getRecord(s.db, key)
	if err != nil {
		return record.Record{}, kvErr("read message", err)
	}
	return rec, nil
}

// ReadConversation returns every message of a conversation ordered by
// seq then id.
//
// Returns an empty slice (not nil) if the conversation has no messages.
func (s *Store) ReadConversation(ctx context.Context, conversation string) ([]record.Record, error) {
	prefix := conversationPrefix(conversation)
	return s.collect(ctx, &pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
}

// ReadAll returns every message ordered by conversation, seq and id.
//
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ReadAll(ctx context.Context) ([]record.Record, error) {
	return s.collect(ctx, nil)
}

// Conversations returns the distinct conversation keys in ascending order.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	convs := []string{}
	err := s.scan(s.db, nil, func(k parsedKey, _ []byte) error {
		if n := len(convs); n == 0 || convs[n-1] != k.conversation {
			convs = append(convs, k.conversation)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, kvErr("scan conversations", err)
	}
	return convs, nil
}

func (s *Store) collect(ctx context.Context, bounds *pebble.IterOptions) ([]record.Record, error) {
	recs := []record.Record{}
	err := s.scan(s.db, bounds, func(_ parsedKey, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, kvErr("scan messages", err)
	}
	return recs, nil
}
