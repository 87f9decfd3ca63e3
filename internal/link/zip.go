package link

import (
	"fmt"
	"slices"

	"github.com/Steven-Chan/chat/internal/record"
)

// Zipper pairs each record with its predecessor while records stream past in
// (conversation ASC, seq ASC) order. It is the streaming form of "partition by
// conversation, order by seq, take the neighbour".
type Zipper struct {
	started       bool
	conversation  string
	lastID        string
	lastSeq       int64
	conversations int64
}

// Next returns the previous ID l should carry. It fails on a repeated seq
// or on input that is not sorted.
func (z *Zipper) Next(l record.Link) (string, error) {
	if !z.started || l.Conversation != z.conversation {
		if z.started && l.Conversation < z.conversation {
			return "", fmt.Errorf("zip: conversation %q after %q: input not ordered", l.Conversation, z.conversation)
		}
		z.started = true
		z.conversation = l.Conversation
		z.lastID = l.ID
		z.lastSeq = l.Seq
		z.conversations++
		return "", nil
	}

	switch {
	case l.Seq == z.lastSeq:
		return "", Violation(l.Conversation, l.Seq, "duplicate sequence in conversation")
	case l.Seq < z.lastSeq:
		return "", fmt.Errorf("zip: seq %d after %d in %q: input not ordered", l.Seq, z.lastSeq, l.Conversation)
	}

	prev := z.lastID
	z.lastID = l.ID
	z.lastSeq = l.Seq
	return prev, nil
}

// Conversations returns how many distinct conversations have been seen.
func (z *Zipper) Conversations() int64 {
	return z.conversations
}

// ComputeLinks returns the correct previous ID for every record, keyed by
// record ID ("" for the first record of a conversation). It is the in-memory
// reference computation both store paths must agree with.
func ComputeLinks(records []record.Record) (map[string]string, error) {
	links := record.RecordLinks(records)
	record.SortLinks(links)

	out := make(map[string]string, len(links))
	var z Zipper
	for _, l := range links {
		prev, err := z.Next(l)
		if err != nil {
			return nil, err
		}
		if _, dup := out[l.ID]; dup {
			return nil, Violation(l.Conversation, l.Seq, fmt.Sprintf("record id %q appears twice", l.ID))
		}
		out[l.ID] = prev
	}
	return out, nil
}

// Relinked returns a copy of records with every Previous recomputed.
func Relinked(records []record.Record) ([]record.Record, error) {
	links, err := ComputeLinks(records)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(records)
	for i := range out {
		out[i].Previous = links[out[i].ID]
	}
	return out, nil
}
