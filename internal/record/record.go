package record

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Record is one message in a conversation.
//
// Previous holds the ID of the record with the greatest Seq below this one
// in the same conversation, or "" when this record is the first.
type Record struct {
	ID           string `json:"id" yaml:"id"`
	Conversation string `json:"conversation" yaml:"conversation"`
	Seq          int64  `json:"seq" yaml:"seq"`
	Previous     string `json:"previous,omitempty" yaml:"previous,omitempty"`
	Body         string `json:"body,omitempty" yaml:"body,omitempty"`
}

// Link is the (id, previous) pair produced by the link computations.
type Link struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	Seq          int64  `json:"seq"`
	Previous     string `json:"previous,omitempty"`
}

// Link returns the record's link view.
func (r Record) Link() Link {
	return Link{ID: r.ID, Conversation: r.Conversation, Seq: r.Seq, Previous: r.Previous}
}

// HasPrevious reports whether the record points at a predecessor.
func (r Record) HasPrevious() bool {
	return r.Previous != ""
}

// Validation errors returned by Validate.
var (
	ErrMissingID           = errors.New("record id is empty")
	ErrMissingConversation = errors.New("record conversation is empty")
	ErrInvalidSeq          = errors.New("record seq must be positive")
	ErrSelfReference       = errors.New("record points at itself")
)

// Validate checks the fields a store needs before the record can be linked.
// A zero Seq is rejected here; stores that allocate sequences do so before
// calling Validate.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.Conversation == "" {
		return ErrMissingConversation
	}
	if r.Seq <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSeq, r.Seq)
	}
	if r.Previous == r.ID {
		return ErrSelfReference
	}
	return nil
}

// NewID returns a time-sortable UUIDv7 string.
//
// Panics if UUID generation fails (should never happen in practice).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// EnsureID assigns a fresh ID when the record has none.
func (r *Record) EnsureID() {
	if r.ID == "" {
		r.ID = NewID()
	}
}
