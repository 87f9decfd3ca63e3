// Package link keeps the previous-message chain of every conversation correct.
//
// Two paths maintain the same invariant:
//
//   - Backfill.RepairAllLinks recomputes every link in one atomic bulk
//     operation. Stores with window functions run a single partitioned
//     update; stores without them stream records in (conversation, seq)
//     order through a Zipper and stage all writes in one batch.
//   - Linker.LinkOnInsert runs inside the insert transaction, before the
//     record is visible, and points the new record at the record with the
//     greatest seq below it in the same conversation.
//
// # Chain Invariant
//
// For every record R with previous P: P is in R's conversation and P.Seq
// is the largest seq below R.Seq there. The first record of a conversation
// has no previous. Duplicate seq values in one conversation are rejected by
// both paths; there is no tie-breaking.
//
// # Operating Constraints
//
// Backfill is meant for quiet periods. It is not run concurrently with
// itself, and with live inserts its result reflects the data committed
// before the bulk scope began.
//
// This package takes no locks of its own. Serialization of same-conversation
// inserts is the store's job (see internal/store and internal/kvstore).
package link
