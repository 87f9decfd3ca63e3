package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// Insert writes rec through the insert path and returns the stored record.
//
// Inside one BEGIN IMMEDIATE transaction the store assigns an ID when rec
// has none, allocates the next store-wide seq when rec.Seq is 0, runs every
// registered insert hook against the transaction's view and writes the row.
// A hook error rolls the transaction back and nothing is written.
//
// Errors are *link.Error values: lock contention is CONCURRENCY_CONFLICT,
// other database failures are STORE_UNAVAILABLE.
func (s *Store) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	rec.EnsureID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Record{}, storeErr("begin insert", rec.Conversation, err)
	}
	defer tx.Rollback()

	if rec.Seq == 0 {
		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return record.Record{}, storeErr("allocate seq", rec.Conversation, err)
		}
		rec.Seq = seq
	}

	view := txView{tx: tx}
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

	if err := insertRow(ctx, tx, rec); err != nil {
		return record.Record{}, storeErr("insert message", rec.Conversation, err)
	}

	if err := tx.Commit(); err != nil {
		return record.Record{}, storeErr("commit insert", rec.Conversation, err)
	}

	s.logger.Debug("message inserted",
		"id", rec.ID,
		"conversation", rec.Conversation,
		"seq", rec.Seq,
		"previous", rec.Previous,
	)
	return rec, nil
}

// Import writes historical records in one transaction without running the
// insert hooks. Previous is cleared on every record; run a backfill
// afterwards to link them. Records without an ID get one.
//
// Returns the number of records written.
func (s *Store) Import(ctx context.Context, recs []record.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin import", "", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, conversation, seq, previous_id, body)
		VALUES (?, ?, ?, NULL, ?)
	`)
	if err != nil {
		return 0, storeErr("prepare import", "", err)
	}
	defer stmt.Close()

	for i := range recs {
		rec := recs[i]
		rec.EnsureID()
		rec.Previous = ""
		if err := rec.Validate(); err != nil {
			v := link.Violation(rec.Conversation, rec.Seq, fmt.Sprintf("invalid record at index %d", i))
			v.Err = err
			return 0, v
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Conversation, rec.Seq, rec.Body); err != nil {
			return 0, storeErr(fmt.Sprintf("import record %d", i), rec.Conversation, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit import", "", err)
	}

	s.logger.Info("records imported", "count", len(recs))
	return len(recs), nil
}

func insertRow(ctx context.Context, tx *sql.Tx, rec record.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation, seq, previous_id, body)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Conversation,
		rec.Seq,
		nullString(rec.Previous),
		rec.Body,
	)
	return err
}

// nextSeq returns one past the greatest seq in the store. Callers hold the
// write lock, so the value cannot be taken concurrently.
func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages`).Scan(&seq)
	return seq, err
}

// txView answers insert hook lookups from the insert transaction.
type txView struct {
	tx *sql.Tx
}

// Preceding implements link.Lookup.
func (v txView) Preceding(ctx context.Context, conversation string, seq int64) (string, bool, error) {
	var id string
	err := v.tx.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE conversation = ? AND seq < ?
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT 1
	`, conversation, seq).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("query preceding", conversation, err)
	}
	return id, true, nil
}

// SequenceTaken implements link.Lookup.
func (v txView) SequenceTaken(ctx context.Context, conversation string, seq int64) (bool, error) {
	var n int
	err := v.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation = ? AND seq = ?
	`, conversation, seq).Scan(&n)
	if err != nil {
		return false, storeErr("query sequence", conversation, err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
