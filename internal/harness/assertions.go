package harness

import (
	"fmt"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

type position struct {
	conversation string
	seq          int64
}

// checkExpectations compares each expected link with the final records.
func checkExpectations(records []record.Record, expect []ExpectLink) []string {
	byPos := make(map[position][]record.Record, len(records))
	byID := make(map[string]record.Record, len(records))
	for _, r := range records {
		p := position{r.Conversation, r.Seq}
		byPos[p] = append(byPos[p], r)
		byID[r.ID] = r
	}

	var errs []string
	for i, e := range expect {
		matches := byPos[position{e.Conversation, e.Seq}]
		if len(matches) != 1 {
			errs = append(errs, fmt.Sprintf("expect[%d]: %s/%d: want exactly one record, found %d",
				i, e.Conversation, e.Seq, len(matches)))
			continue
		}
		r := matches[0]

		if e.PreviousSeq == 0 {
			if r.HasPrevious() {
				errs = append(errs, fmt.Sprintf("expect[%d]: %s/%d: want no previous, got %q",
					i, e.Conversation, e.Seq, r.Previous))
			}
			continue
		}

		prev, ok := byID[r.Previous]
		switch {
		case !r.HasPrevious():
			errs = append(errs, fmt.Sprintf("expect[%d]: %s/%d: want previous seq %d, got none",
				i, e.Conversation, e.Seq, e.PreviousSeq))
		case !ok:
			errs = append(errs, fmt.Sprintf("expect[%d]: %s/%d: previous %q does not exist",
				i, e.Conversation, e.Seq, r.Previous))
		case prev.Conversation != e.Conversation || prev.Seq != e.PreviousSeq:
			errs = append(errs, fmt.Sprintf("expect[%d]: %s/%d: want previous seq %d, got %s/%d",
				i, e.Conversation, e.Seq, e.PreviousSeq, prev.Conversation, prev.Seq))
		}
	}
	return errs
}

// EvaluateAssertions evaluates all assertions against the final records.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(records []record.Record, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		switch a.Type {
		case AssertCount:
			n := 0
			for _, r := range records {
				if a.Conversation == "" || r.Conversation == a.Conversation {
					n++
				}
			}
			if n != a.Count {
				scope := "store"
				if a.Conversation != "" {
					scope = a.Conversation
				}
				errs = append(errs, fmt.Sprintf("assertions[%d]: %s holds %d records, want %d", i, scope, n, a.Count))
			}
		case AssertChainValid:
			for _, f := range link.Verify(records) {
				errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, f))
			}
		default:
			errs = append(errs, fmt.Sprintf("assertions[%d]: unknown assertion type %q", i, a.Type))
		}
	}

	return errs
}
