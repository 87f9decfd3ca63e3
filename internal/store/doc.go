// Package store provides SQLite-backed durable storage for conversation
// messages and their predecessor links.
//
// Each row of the messages table carries its conversation, a positive seq
// and previous_id, the ID of the row with the greatest seq below it in the
// same conversation (NULL for the first message).
//
// # Critical Patterns
//
// Insert path:
//   - Every transaction is opened with BEGIN IMMEDIATE (_txlock=immediate),
//     so the write lock is held before an insert hook reads the
//     conversation. Two inserts can never observe the same predecessor.
//   - Hooks registered with RegisterInsertHook run inside the insert
//     transaction. A hook error rolls the insert back.
//   - A zero seq is replaced with MAX(seq)+1 over the whole store.
//   - The pool has one connection, so inserts serialize across the whole
//     store, not per conversation. An insert into one conversation waits
//     for a slow hook or commit in any other. Use kvstore when inserts to
//     different conversations must proceed independently.
//
// Bulk path:
//   - Bulk opens one transaction. The windowed relink is a single
//     UPDATE ... FROM over LEAD(id) OVER (PARTITION BY conversation
//     ORDER BY seq DESC).
//   - Import writes rows without hooks and with previous_id NULL.
//
// Deterministic reads:
//   - All queries order by seq ASC, id ASC COLLATE BINARY
//     (conversation first when reading across conversations).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: previous_id must reference an existing message
//     (checked at commit)
package store
