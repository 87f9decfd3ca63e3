package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Steven-Chan/chat/internal/record"
)

// ErrNotFound is returned by ReadMessage when no message has the given ID.
var ErrNotFound = errors.New("message not found")

const selectMessage = `
	SELECT id, conversation, seq, COALESCE(previous_id, ''), body
	FROM messages
`

// ReadMessage returns the message with the given ID.
func (s *Store) ReadMessage(ctx context.Context, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, selectMessage+`WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("read message %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Record{}, storeErr("read message", "", err)
	}
	return rec, nil
}

// ReadConversation returns every message of a conversation ordered by
// seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the conversation has no messages.
func (s *Store) ReadConversation(ctx context.Context, conversation string) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectMessage+`
		WHERE conversation = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, conversation)
	if err != nil {
		return nil, storeErr("query conversation", conversation, err)
	}
	return collect(rows)
}

// ReadAll returns every message ordered by conversation, seq and id.
//
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ReadAll(ctx context.Context) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectMessage+`
		ORDER BY conversation COLLATE BINARY ASC, seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, storeErr("query messages", "", err)
	}
	return collect(rows)
}

// Conversations returns the distinct conversation keys in ascending order.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT conversation FROM messages
		ORDER BY conversation COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, storeErr("query conversations", "", err)
	}
	defer rows.Close()

	convs := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate conversations", "", err)
	}
	return convs, nil
}

func collect(rows *sql.Rows) ([]record.Record, error) {
	defer rows.Close()

	recs := []record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", "", err)
	}
	return recs, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (record.Record, error) {
	var rec record.Record
	err := sc.Scan(&rec.ID, &rec.Conversation, &rec.Seq, &rec.Previous, &rec.Body)
	return rec, err
}
