package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// Insert writes rec through the insert path and returns the stored record.
//
// The conversation's lock is held from sequence allocation until the
// batch commits, and the id's lock from the id check until the commit.
// Registered hooks see the committed state of the conversation through the
// batch. A hook error discards the batch.
func (s *Store) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, fmt.Errorf("insert: %w", err)
	}
	rec.EnsureID()
	if err := checkKeyable(rec); err != nil {
		return record.Record{}, err
	}

	s.bulk.RLock()
	defer s.bulk.RUnlock()
	unlockConversation := s.conversations.lock(rec.Conversation)
	defer unlockConversation()

	if rec.Seq == 0 {
		rec.Seq = s.clock.Next()
	}

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	view := batchView{batch: batch}
	for _, hook := range s.insertHooks() {
		if err := hook(ctx, view, &rec); err != nil {
			return record.Record{}, fmt.Errorf("insert hook: %w", err)
		}
	}

	if err := rec.Validate(); err != nil {
		v := link.Violation(rec.Conversation, rec.Seq, "invalid record")
		v.Err = err
		return record.Record{}, v
	}

	unlockID := s.ids.lock(rec.ID)
	defer unlockID()

	exists, err := has(batch, indexKey(rec.ID))
	if err != nil {
		return record.Record{}, kvErr("check id", err)
	}
	if exists {
		return record.Record{}, link.Violation(rec.Conversation, rec.Seq, fmt.Sprintf("message id %q already exists", rec.ID))
	}

	if err := stage(batch, rec); err != nil {
		return record.Record{}, kvErr("stage message", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return record.Record{}, kvErr("commit insert", err)
	}
	s.clock.Observe(rec.Seq)

	s.logger.Debug("message inserted",
		"id", rec.ID,
		"conversation", rec.Conversation,
		"seq", rec.Seq,
		"previous", rec.Previous,
	)
	return rec, nil
}

// Import writes historical records in one atomic batch without running the
// insert hooks. Previous is cleared on every record; run a backfill
// afterwards to link them. Records without an ID get one.
//
// Returns the number of records written.
func (s *Store) Import(ctx context.Context, recs []record.Record) (int, error) {
	s.bulk.Lock()
	defer s.bulk.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	var highest int64
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}
		rec := recs[i]
		rec.EnsureID()
		rec.Previous = ""
		if err := rec.Validate(); err != nil {
			v := link.Violation(rec.Conversation, rec.Seq, fmt.Sprintf("invalid record at index %d", i))
			v.Err = err
			return 0, v
		}
		if err := checkKeyable(rec); err != nil {
			return 0, err
		}
		exists, err := has(batch, indexKey(rec.ID))
		if err != nil {
			return 0, kvErr("check id", err)
		}
		if exists {
			return 0, link.Violation(rec.Conversation, rec.Seq, fmt.Sprintf("message id %q already exists", rec.ID))
		}
		if err := stage(batch, rec); err != nil {
			return 0, kvErr(fmt.Sprintf("stage record %d", i), err)
		}
		if rec.Seq > highest {
			highest = rec.Seq
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, kvErr("commit import", err)
	}
	s.clock.Observe(highest)

	s.logger.Info("records imported", "count", len(recs))
	return len(recs), nil
}

// checkKeyable rejects conversations that would break the key layout.
func checkKeyable(rec record.Record) error {
	if strings.IndexByte(rec.Conversation, convSep) >= 0 {
		return link.Violation(rec.Conversation, rec.Seq, "conversation contains a NUL byte")
	}
	return nil
}

func stage(batch *pebble.Batch, rec record.Record) error {
	v, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	key := messageKey(rec.Conversation, rec.Seq, rec.ID)
	if err := batch.Set(key, v, nil); err != nil {
		return err
	}
	return batch.Set(indexKey(rec.ID), key, nil)
}

func has(r reader, key []byte) (bool, error) {
	_, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// batchView answers insert hook lookups through an indexed batch.
type batchView struct {
	batch *pebble.Batch
}

// Preceding implements link.Lookup: the last key below seq's prefix within
// the conversation range.
func (v batchView) Preceding(ctx context.Context, conversation string, seq int64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	iter, err := v.batch.NewIter(&pebble.IterOptions{
		LowerBound: conversationPrefix(conversation),
		UpperBound: seqPrefix(conversation, seq),
	})
	if err != nil {
		return "", false, kvErr("query preceding", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return "", false, kvErr("query preceding", iter.Error())
	}
	k, err := parseMessageKey(iter.Key())
	if err != nil {
		return "", false, kvErr("query preceding", err)
	}
	return k.id, true, nil
}

// SequenceTaken implements link.Lookup.
func (v batchView) SequenceTaken(ctx context.Context, conversation string, seq int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	prefix := seqPrefix(conversation, seq)
	iter, err := v.batch.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return false, kvErr("query sequence", err)
	}
	defer iter.Close()

	if iter.First() {
		return bytes.HasPrefix(iter.Key(), prefix), nil
	}
	return false, kvErr("query sequence", iter.Error())
}
