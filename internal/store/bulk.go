package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// scanPageSize bounds how many rows ScanOrdered holds at once.
const scanPageSize = 512

// Bulk runs fn inside one BEGIN IMMEDIATE transaction. fn's writes commit
// together when it returns nil and roll back otherwise.
//
// The scope implements link.WindowedRelinker unless the store was opened
// WithStreamedBackfill, in which case it only implements link.OrderedScanner.
func (s *Store) Bulk(ctx context.Context, fn func(link.BulkTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin bulk", "", err)
	}
	defer tx.Rollback()

	btx := &bulkTx{tx: tx}
	var scope link.BulkTx = btx
	if s.streamed {
		scope = streamedTx{btx}
	}

	if err := fn(scope); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit bulk", "", err)
	}
	return nil
}

// bulkTx is the windowed bulk scope.
type bulkTx struct {
	tx *sql.Tx
}

var (
	_ link.WindowedRelinker = (*bulkTx)(nil)
	_ link.OrderedScanner   = (*bulkTx)(nil)
	_ link.OrderedScanner   = streamedTx{}
)

// Stats implements link.BulkTx.
func (b *bulkTx) Stats(ctx context.Context) (int64, int64, error) {
	var records, conversations int64
	err := b.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT conversation) FROM messages
	`).Scan(&records, &conversations)
	if err != nil {
		return 0, 0, storeErr("count messages", "", err)
	}
	return records, conversations, nil
}

// DuplicateSequences implements link.WindowedRelinker.
func (b *bulkTx) DuplicateSequences(ctx context.Context) ([]link.Duplicate, error) {
	rows, err := b.tx.QueryContext(ctx, `
		SELECT conversation, seq, COUNT(*)
		FROM messages
		GROUP BY conversation, seq
		HAVING COUNT(*) > 1
		ORDER BY conversation COLLATE BINARY ASC, seq ASC
	`)
	if err != nil {
		return nil, storeErr("query duplicate sequences", "", err)
	}
	defer rows.Close()

	dups := []link.Duplicate{}
	for rows.Next() {
		var d link.Duplicate
		if err := rows.Scan(&d.Conversation, &d.Seq, &d.Count); err != nil {
			return nil, fmt.Errorf("scan duplicate: %w", err)
		}
		dups = append(dups, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate duplicate sequences", "", err)
	}
	return dups, nil
}

// RelinkWindowed implements link.WindowedRelinker with a single update over
// a LEAD window partitioned by conversation. Ordered by seq descending,
// the next row is the predecessor. Rows already holding the right link are
// left untouched, so the affected row count is the number of changed links.
func (b *bulkTx) RelinkWindowed(ctx context.Context) (int64, error) {
	res, err := b.tx.ExecContext(ctx, `
		UPDATE messages AS m
		SET previous_id = w.prev_id
		FROM (
			SELECT id,
			       LEAD(id) OVER (PARTITION BY conversation ORDER BY seq DESC) AS prev_id
			FROM messages
		) AS w
		WHERE m.id = w.id
		  AND m.previous_id IS NOT w.prev_id
	`)
	if err != nil {
		return 0, storeErr("relink messages", "", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("relink messages", "", err)
	}
	return changed, nil
}

// ScanOrdered implements link.OrderedScanner. Rows are read in pages keyed
// on (conversation, seq, id) so SetPrevious never writes under an open
// cursor.
func (b *bulkTx) ScanOrdered(ctx context.Context, fn func(record.Link) error) error {
	var (
		first = true
		last  record.Link
	)
	for {
		page, err := b.scanPage(ctx, first, last)
		if err != nil {
			return err
		}
		for _, l := range page {
			if err := fn(l); err != nil {
				return err
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
		first = false
		last = page[len(page)-1]
	}
}

func (b *bulkTx) scanPage(ctx context.Context, first bool, after record.Link) ([]record.Link, error) {
	query := `
		SELECT id, conversation, seq, COALESCE(previous_id, '')
		FROM messages
		%s
		ORDER BY conversation COLLATE BINARY ASC, seq ASC, id COLLATE BINARY ASC
		LIMIT ?
	`
	var (
		rows *sql.Rows
		err  error
	)
	if first {
		rows, err = b.tx.QueryContext(ctx, fmt.Sprintf(query, ""), scanPageSize)
	} else {
		rows, err = b.tx.QueryContext(ctx, fmt.Sprintf(query, "WHERE (conversation, seq, id) > (?, ?, ?)"),
			after.Conversation, after.Seq, after.ID, scanPageSize)
	}
	if err != nil {
		return nil, storeErr("scan messages", "", err)
	}
	defer rows.Close()

	page := make([]record.Link, 0, scanPageSize)
	for rows.Next() {
		var l record.Link
		if err := rows.Scan(&l.ID, &l.Conversation, &l.Seq, &l.Previous); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		page = append(page, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", "", err)
	}
	return page, nil
}

// SetPrevious implements link.OrderedScanner.
func (b *bulkTx) SetPrevious(ctx context.Context, id, previous string) error {
	res, err := b.tx.ExecContext(ctx, `
		UPDATE messages SET previous_id = ? WHERE id = ?
	`, nullString(previous), id)
	if err != nil {
		return storeErr("set previous", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("set previous", "", err)
	}
	if n == 0 {
		return fmt.Errorf("set previous: message %q not found", id)
	}
	return nil
}

// streamedTx exposes only the ordered scan of a bulkTx.
type streamedTx struct {
	b *bulkTx
}

func (s streamedTx) Stats(ctx context.Context) (int64, int64, error) {
	return s.b.Stats(ctx)
}

func (s streamedTx) ScanOrdered(ctx context.Context, fn func(record.Link) error) error {
	return s.b.ScanOrdered(ctx, fn)
}

func (s streamedTx) SetPrevious(ctx context.Context, id, previous string) error {
	return s.b.SetPrevious(ctx, id, previous)
}
