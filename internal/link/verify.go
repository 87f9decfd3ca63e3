package link

import (
	"fmt"

	"github.com/Steven-Chan/chat/internal/record"
)

// Violation kinds reported by Verify.
const (
	KindDuplicateSeq      = "duplicate_seq"
	KindDuplicateID       = "duplicate_id"
	KindWrongPrevious     = "wrong_previous"
	KindDanglingPrevious  = "dangling_previous"
	KindCrossConversation = "cross_conversation"
	KindSelfReference     = "self_reference"
	KindCycle             = "cycle"
)

// Finding is one chain defect found by Verify.
type Finding struct {
	Kind         string `json:"kind"`
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	Seq          int64  `json:"seq"`
	Got          string `json:"got,omitempty"`
	Want         string `json:"want,omitempty"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: id=%s conversation=%s seq=%d got=%q want=%q",
		f.Kind, f.ID, f.Conversation, f.Seq, f.Got, f.Want)
}

// Verify checks every record against the chain invariant and returns all
// defects found. An empty result means every link is correct, no record
// points at itself or across conversations, and every chain ends.
func Verify(records []record.Record) []Finding {
	var findings []Finding

	byID := make(map[string]record.Record, len(records))
	for _, r := range records {
		if _, dup := byID[r.ID]; dup {
			findings = append(findings, Finding{Kind: KindDuplicateID, ID: r.ID, Conversation: r.Conversation, Seq: r.Seq})
			continue
		}
		byID[r.ID] = r
	}

	// Expected links per conversation; duplicate seqs make a conversation
	// unverifiable for wrong_previous purposes.
	links := record.RecordLinks(records)
	record.SortLinks(links)
	want := make(map[string]string, len(links))
	ambiguous := make(map[string]bool)
	for i, l := range links {
		if i > 0 && links[i-1].Conversation == l.Conversation {
			if links[i-1].Seq == l.Seq {
				findings = append(findings, Finding{Kind: KindDuplicateSeq, ID: l.ID, Conversation: l.Conversation, Seq: l.Seq})
				ambiguous[l.Conversation] = true
				continue
			}
			want[l.ID] = links[i-1].ID
			continue
		}
		want[l.ID] = ""
	}

	for _, r := range records {
		switch {
		case r.Previous == r.ID:
			findings = append(findings, Finding{Kind: KindSelfReference, ID: r.ID, Conversation: r.Conversation, Seq: r.Seq, Got: r.Previous})
			continue
		case r.Previous != "":
			p, ok := byID[r.Previous]
			if !ok {
				findings = append(findings, Finding{Kind: KindDanglingPrevious, ID: r.ID, Conversation: r.Conversation, Seq: r.Seq, Got: r.Previous})
				continue
			}
			if p.Conversation != r.Conversation {
				findings = append(findings, Finding{Kind: KindCrossConversation, ID: r.ID, Conversation: r.Conversation, Seq: r.Seq, Got: r.Previous})
				continue
			}
		}
		if ambiguous[r.Conversation] {
			continue
		}
		if w := want[r.ID]; w != r.Previous {
			findings = append(findings, Finding{Kind: KindWrongPrevious, ID: r.ID, Conversation: r.Conversation, Seq: r.Seq, Got: r.Previous, Want: w})
		}
	}

	findings = append(findings, findCycles(byID)...)
	return findings
}

// findCycles walks every chain once. Nodes are coloured while on the current
// walk; reaching a coloured node means the walk closed a loop.
func findCycles(byID map[string]record.Record) []Finding {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(byID))
	var findings []Finding

	for start := range byID {
		if state[start] != unvisited {
			continue
		}
		var path []string
		id := start
		for id != "" {
			r, ok := byID[id]
			if !ok || state[id] == done || r.Previous == r.ID {
				break
			}
			if state[id] == onPath {
				findings = append(findings, Finding{Kind: KindCycle, ID: r.ID, Conversation: r.Conversation, Seq: r.Seq})
				break
			}
			state[id] = onPath
			path = append(path, id)
			id = r.Previous
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return findings
}
