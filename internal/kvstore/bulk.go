package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// Bulk runs fn with inserts excluded and stages its writes in one batch.
// The batch commits atomically when fn returns nil and is discarded
// otherwise. The scope implements link.OrderedScanner.
func (s *Store) Bulk(ctx context.Context, fn func(link.BulkTx) error) error {
	s.bulk.Lock()
	defer s.bulk.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	scope := &bulkScope{store: s, batch: batch}
	if err := fn(scope); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bulk: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return kvErr("commit bulk", err)
	}
	s.logger.Debug("bulk scope committed", "writes", scope.writes)
	return nil
}

// bulkScope reads committed state from the database and stages writes in
// the batch. Reads never see staged writes.
type bulkScope struct {
	store  *Store
	batch  *pebble.Batch
	writes int
}

var _ link.OrderedScanner = (*bulkScope)(nil)

// Stats implements link.BulkTx.
func (b *bulkScope) Stats(ctx context.Context) (int64, int64, error) {
	var (
		records, conversations int64
		last                   string
	)
	err := b.store.scan(b.store.db, nil, func(k parsedKey, _ []byte) error {
		if records == 0 || k.conversation != last {
			conversations++
			last = k.conversation
		}
		records++
		return ctx.Err()
	})
	if err != nil {
		return 0, 0, kvErr("count messages", err)
	}
	return records, conversations, nil
}

// ScanOrdered implements link.OrderedScanner. Key order is
// (conversation, seq, id).
func (b *bulkScope) ScanOrdered(ctx context.Context, fn func(record.Link) error) error {
	var fnErr error
	err := b.store.scan(b.store.db, nil, func(k parsedKey, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		l := record.Link{ID: k.id, Conversation: k.conversation, Seq: k.seq, Previous: rec.Previous}
		if err := fn(l); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return kvErr("scan messages", err)
}

// SetPrevious implements link.OrderedScanner.
func (b *bulkScope) SetPrevious(ctx context.Context, id, previous string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, closer, err := b.store.db.Get(indexKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("set previous: message %q not found", id)
	}
	if err != nil {
		return kvErr("set previous", err)
	}
	key = append([]byte(nil), key...)
	closer.Close()

	rec, err := getRecord(b.store.db, key)
	if err != nil {
		return kvErr("set previous", err)
	}
	rec.Previous = previous
	v, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("set previous: %w", err)
	}
	if err := b.batch.Set(key, v, nil); err != nil {
		return kvErr("set previous", err)
	}
	b.writes++
	return nil
}
