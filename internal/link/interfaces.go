package link

import (
	"context"

	"github.com/Steven-Chan/chat/internal/record"
)

// Lookup is the transactional read view the linker needs. Implementations
// must answer from the same transaction that will make the insert durable.
type Lookup interface {
	// Preceding returns the ID of the record with the greatest seq strictly
	// below seq in conversation. found is false when there is none.
	Preceding(ctx context.Context, conversation string, seq int64) (id string, found bool, err error)

	// SequenceTaken reports whether conversation already holds seq.
	SequenceTaken(ctx context.Context, conversation string, seq int64) (bool, error)
}

// Hook is a pre-commit callback on a store's insert path. It may modify rec
// before it is written. A non-nil error aborts the insert.
type Hook func(ctx context.Context, view Lookup, rec *record.Record) error

// Registrar is implemented by stores that run insert hooks.
// Registering a name twice replaces the earlier hook.
type Registrar interface {
	RegisterInsertHook(name string, hook Hook)
}

// BulkStore runs fn inside one atomic write scope. If fn returns an error
// nothing fn wrote is applied.
type BulkStore interface {
	Bulk(ctx context.Context, fn func(tx BulkTx) error) error
}

// BulkTx is the view handed to a bulk scope. Concrete scopes also implement
// WindowedRelinker or OrderedScanner.
type BulkTx interface {
	// Stats counts the records and conversations visible to the scope.
	Stats(ctx context.Context) (records, conversations int64, err error)
}

// Duplicate is a seq value held by more than one record of a conversation.
type Duplicate struct {
	Conversation string
	Seq          int64
	Count        int64
}

// WindowedRelinker is a bulk scope with native window functions.
type WindowedRelinker interface {
	BulkTx

	// DuplicateSequences lists every (conversation, seq) held more than once.
	DuplicateSequences(ctx context.Context) ([]Duplicate, error)

	// RelinkWindowed sets every record's previous in one partitioned
	// window update and returns how many links changed.
	RelinkWindowed(ctx context.Context) (changed int64, err error)
}

// OrderedScanner is a bulk scope without windowing. Records are streamed in
// (conversation ASC, seq ASC) order and new links staged into the scope.
type OrderedScanner interface {
	BulkTx

	ScanOrdered(ctx context.Context, fn func(record.Link) error) error
	SetPrevious(ctx context.Context, id, previous string) error
}
