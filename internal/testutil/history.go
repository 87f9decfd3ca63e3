package testutil

import (
	"fmt"

	"github.com/Steven-Chan/chat/internal/record"
)

// History builds an unlinked message history the way a store-wide
// sequence would have produced it: messages of all conversations are
// interleaved round-robin and share one increasing sequence, so every
// conversation sees strictly increasing but gappy seq values.
//
// Conversations are named conv-00, conv-01, ... and IDs come from ids.
// The same arguments always produce the same history.
func History(ids *IDSequence, conversations, perConversation int) []record.Record {
	recs := make([]record.Record, 0, conversations*perConversation)
	var seq int64
	for m := 0; m < perConversation; m++ {
		for c := 0; c < conversations; c++ {
			seq++
			recs = append(recs, record.Record{
				ID:           ids.Next(),
				Conversation: ConversationName(c),
				Seq:          seq,
			})
		}
	}
	return recs
}

// ConversationName returns the name History uses for conversation i.
func ConversationName(i int) string {
	return fmt.Sprintf("conv-%02d", i)
}

// Shuffled returns recs in a fixed scrambled order that differs from
// both ascending and descending seq order.
func Shuffled(recs []record.Record) []record.Record {
	out := make([]record.Record, 0, len(recs))
	n := len(recs)
	if n == 0 {
		return out
	}
	// 7919 is prime, so stepping by it visits every index exactly once
	// whenever n is not a multiple of it.
	step := 7919 % n
	if step == 0 || gcd(step, n) != 1 {
		step = 1
	}
	for i, idx := 0, n/2; i < n; i, idx = i+1, (idx+step)%n {
		out = append(out, recs[idx])
	}
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
