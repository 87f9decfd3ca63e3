package link

import (
	"context"
	"slices"
	"strings"

	"github.com/Steven-Chan/chat/internal/record"
)

// fakeStore is a minimal in-memory store for exercising the core without a
// database. Bulk scopes work on a copy that is only kept when fn succeeds.
type fakeStore struct {
	records   []record.Record
	windowed  bool
	hooks     map[string]Hook
	lookupErr error
	setErr    error
}

func newFakeStore(windowed bool, records ...record.Record) *fakeStore {
	return &fakeStore{records: slices.Clone(records), windowed: windowed, hooks: map[string]Hook{}}
}

func (f *fakeStore) RegisterInsertHook(name string, hook Hook) {
	f.hooks[name] = hook
}

// Insert runs every hook against the current state and appends rec.
func (f *fakeStore) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	for _, h := range f.hooks {
		if err := h(ctx, f, &rec); err != nil {
			return record.Record{}, err
		}
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeStore) Preceding(_ context.Context, conversation string, seq int64) (string, bool, error) {
	if f.lookupErr != nil {
		return "", false, f.lookupErr
	}
	var best *record.Record
	for i := range f.records {
		r := &f.records[i]
		if r.Conversation != conversation || r.Seq >= seq {
			continue
		}
		if best == nil || r.Seq > best.Seq {
			best = r
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.ID, true, nil
}

func (f *fakeStore) SequenceTaken(_ context.Context, conversation string, seq int64) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return slices.ContainsFunc(f.records, func(r record.Record) bool {
		return r.Conversation == conversation && r.Seq == seq
	}), nil
}

func (f *fakeStore) byID(id string) record.Record {
	for _, r := range f.records {
		if r.ID == id {
			return r
		}
	}
	return record.Record{}
}

func (f *fakeStore) Bulk(ctx context.Context, fn func(tx BulkTx) error) error {
	staged := slices.Clone(f.records)
	base := fakeBulk{store: f, staged: staged}
	var tx BulkTx = &fakeStreamed{base}
	if f.windowed {
		tx = &fakeWindowed{base}
	}
	if err := fn(tx); err != nil {
		return err
	}
	switch t := tx.(type) {
	case *fakeStreamed:
		f.records = t.staged
	case *fakeWindowed:
		f.records = t.staged
	}
	return nil
}

type fakeBulk struct {
	store  *fakeStore
	staged []record.Record
}

func (b *fakeBulk) Stats(context.Context) (int64, int64, error) {
	convs := map[string]bool{}
	for _, r := range b.staged {
		convs[r.Conversation] = true
	}
	return int64(len(b.staged)), int64(len(convs)), nil
}

type fakeWindowed struct{ fakeBulk }

func (w *fakeWindowed) DuplicateSequences(context.Context) ([]Duplicate, error) {
	counts := map[record.Link]int64{}
	for _, r := range w.staged {
		counts[record.Link{Conversation: r.Conversation, Seq: r.Seq}]++
	}
	var dups []Duplicate
	for k, n := range counts {
		if n > 1 {
			dups = append(dups, Duplicate{Conversation: k.Conversation, Seq: k.Seq, Count: n})
		}
	}
	return dups, nil
}

func (w *fakeWindowed) RelinkWindowed(context.Context) (int64, error) {
	relinked, err := Relinked(w.staged)
	if err != nil {
		return 0, err
	}
	var changed int64
	for i := range relinked {
		if relinked[i].Previous != w.staged[i].Previous {
			changed++
		}
	}
	w.staged = relinked
	return changed, nil
}

type fakeStreamed struct{ fakeBulk }

func (s *fakeStreamed) ScanOrdered(_ context.Context, fn func(record.Link) error) error {
	links := record.RecordLinks(s.staged)
	slices.SortFunc(links, func(a, b record.Link) int {
		if c := strings.Compare(a.Conversation, b.Conversation); c != 0 {
			return c
		}
		return int(a.Seq - b.Seq)
	})
	for _, l := range links {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStreamed) SetPrevious(_ context.Context, id, previous string) error {
	if s.store.setErr != nil {
		return s.store.setErr
	}
	for i := range s.staged {
		if s.staged[i].ID == id {
			s.staged[i].Previous = previous
		}
	}
	return nil
}
