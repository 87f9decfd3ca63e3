package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openLinkedStore(t *testing.T) *Store {
	t.Helper()
	s := openTestStore(t)
	link.NewLinker().Register(s)
	return s
}

func unlinkedHistory() []record.Record {
	return []record.Record{
		{ID: "c2-s3", Conversation: "conv-2", Seq: 3},
		{ID: "c1-s4", Conversation: "conv-1", Seq: 4},
		{ID: "c1-s1", Conversation: "conv-1", Seq: 1},
		{ID: "c2-s1", Conversation: "conv-2", Seq: 1},
		{ID: "c1-s2", Conversation: "conv-1", Seq: 2},
	}
}

func digest(t *testing.T, s *Store) string {
	t.Helper()
	all, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	d, err := record.ChainDigest(record.RecordLinks(all))
	require.NoError(t, err)
	return d
}

func TestOpen_ReopenRecoversSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.pebble")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Import(ctx, []record.Record{{ID: "a", Conversation: "conv-1", Seq: 41}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	link.NewLinker().Register(s)

	got, err := s.Insert(ctx, record.Record{Conversation: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Seq)
	assert.Equal(t, "a", got.Previous)
}

func TestClose_Twice(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestInsert_LinksToLargestLowerSeq(t *testing.T) {
	s := openLinkedStore(t)
	ctx := context.Background()

	for _, r := range []record.Record{
		{ID: "c1-s1", Conversation: "conv-1", Seq: 1},
		{ID: "c1-s2", Conversation: "conv-1", Seq: 2},
		{ID: "c1-s4", Conversation: "conv-1", Seq: 4},
		{ID: "c2-s1", Conversation: "conv-2", Seq: 1},
	} {
		_, err := s.Insert(ctx, r)
		require.NoError(t, err)
	}

	got, err := s.Insert(ctx, record.Record{ID: "c1-s5", Conversation: "conv-1", Seq: 5})
	require.NoError(t, err)
	assert.Equal(t, "c1-s4", got.Previous)

	got, err = s.Insert(ctx, record.Record{ID: "c1-s3", Conversation: "conv-1", Seq: 3})
	require.NoError(t, err)
	assert.Equal(t, "c1-s2", got.Previous)

	stored, err := s.ReadMessage(ctx, "c1-s4")
	require.NoError(t, err)
	assert.Equal(t, "c1-s2", stored.Previous, "existing links are not revisited on insert")

	got, err = s.Insert(ctx, record.Record{ID: "c3-s9", Conversation: "conv-3", Seq: 9})
	require.NoError(t, err)
	assert.Empty(t, got.Previous)
}

func TestInsert_DuplicateSeqRejected(t *testing.T) {
	s := openLinkedStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, record.Record{ID: "a", Conversation: "conv-1", Seq: 7})
	require.NoError(t, err)

	_, err = s.Insert(ctx, record.Record{ID: "b", Conversation: "conv-1", Seq: 7})
	require.Error(t, err)
	assert.True(t, link.IsInvariantViolation(err))

	_, err = s.ReadMessage(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsert_DuplicateIDRejected(t *testing.T) {
	s := openLinkedStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, record.Record{ID: "same", Conversation: "conv-1", Seq: 1})
	require.NoError(t, err)

	_, err = s.Insert(ctx, record.Record{ID: "same", Conversation: "conv-2", Seq: 1})
	require.Error(t, err)
	assert.True(t, link.IsInvariantViolation(err))
}

func TestInsert_RejectsNULConversation(t *testing.T) {
	s := openLinkedStore(t)

	_, err := s.Insert(context.Background(), record.Record{ID: "a", Conversation: "bad\x00conv", Seq: 1})
	require.Error(t, err)
	assert.True(t, link.IsInvariantViolation(err))
}

func TestInsert_HookErrorDiscardsBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	s.RegisterInsertHook("fail", func(context.Context, link.Lookup, *record.Record) error {
		return boom
	})

	_, err := s.Insert(ctx, record.Record{ID: "a", Conversation: "conv-1", Seq: 1})
	require.ErrorIs(t, err, boom)

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestInsert_ContextCanceled(t *testing.T) {
	s := openLinkedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Insert(ctx, record.Record{ID: "a", Conversation: "conv-1", Seq: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegisterInsertHook_ReplacesByName(t *testing.T) {
	s := openTestStore(t)
	link.NewLinker().Register(s)
	link.NewLinker().Register(s)

	assert.Equal(t, []string{link.HookName}, s.InsertHooks())
}

func TestInsert_ConcurrentSameAndDifferentConversations(t *testing.T) {
	s := openLinkedStore(t)
	ctx := context.Background()

	const conversations, writersPerConversation, perWriter = 4, 3, 20
	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < conversations; c++ {
		conv := fmt.Sprintf("conv-%d", c)
		for w := 0; w < writersPerConversation; w++ {
			g.Go(func() error {
				for i := 0; i < perWriter; i++ {
					if _, err := s.Insert(gctx, record.Record{Conversation: conv}); err != nil {
						return err
					}
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, conversations*writersPerConversation*perWriter)
	assert.Empty(t, link.Verify(all))
}

func TestInsert_DifferentConversationsDoNotBlock(t *testing.T) {
	s := openLinkedStore(t)
	ctx := context.Background()
	a, b := sameShardConversations(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	s.RegisterInsertHook("hold", func(_ context.Context, _ link.Lookup, r *record.Record) error {
		if r.Conversation == a {
			close(entered)
			<-release
		}
		return nil
	})

	held := make(chan error, 1)
	go func() {
		_, err := s.Insert(ctx, record.Record{ID: "a-1", Conversation: a, Seq: 1})
		held <- err
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		_, err := s.Insert(ctx, record.Record{ID: "b-1", Conversation: b, Seq: 1})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatalf("insert into %q waited on insert into %q", b, a)
	}
	close(release)
	require.NoError(t, <-held)

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Zero(t, s.conversations.live())
	assert.Zero(t, s.ids.live())
}

func TestInsert_ConcurrentSameIDAcrossConversations(t *testing.T) {
	s := openLinkedStore(t)
	ctx := context.Background()

	const rounds, writers = 20, 8
	for r := 0; r < rounds; r++ {
		id := fmt.Sprintf("shared-%d", r)
		var accepted atomic.Int32
		var g errgroup.Group
		for w := 0; w < writers; w++ {
			conv := fmt.Sprintf("conv-%d", w)
			g.Go(func() error {
				_, err := s.Insert(ctx, record.Record{ID: id, Conversation: conv})
				switch {
				case err == nil:
					accepted.Add(1)
				case link.IsInvariantViolation(err):
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), accepted.Load(), "id %s", id)
	}

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, rounds)
	assert.Empty(t, link.Verify(all))

	_, err = link.NewBackfill().RepairAllLinks(ctx, s)
	require.NoError(t, err)
	all, err = s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, link.Verify(all))
}

func TestImport_ClearsPreviousAndRejectsDuplicateIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Import(ctx, []record.Record{
		{ID: "a", Conversation: "conv-1", Seq: 1},
		{ID: "b", Conversation: "conv-1", Seq: 2, Previous: "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := s.ReadMessage(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, b.Previous)

	_, err = s.Import(ctx, []record.Record{
		{ID: "c", Conversation: "conv-1", Seq: 3},
		{ID: "a", Conversation: "conv-2", Seq: 1},
	})
	require.Error(t, err)
	assert.True(t, link.IsInvariantViolation(err))

	_, err = s.ReadMessage(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound, "failed import must not write any record")
}

func TestBackfill_Streamed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Import(ctx, unlinkedHistory())
	require.NoError(t, err)

	report, err := link.NewBackfill().RepairAllLinks(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, link.ModeStreamed, report.Mode)
	assert.Equal(t, int64(5), report.Records)
	assert.Equal(t, int64(2), report.Conversations)
	assert.Equal(t, int64(3), report.Changed)

	conv1, err := s.ReadConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, conv1, 3)
	assert.Equal(t, []string{"", "c1-s1", "c1-s2"}, []string{conv1[0].Previous, conv1[1].Previous, conv1[2].Previous})

	conv2, err := s.ReadConversation(ctx, "conv-2")
	require.NoError(t, err)
	require.Len(t, conv2, 2)
	assert.Equal(t, "c2-s1", conv2[1].Previous)
}

func TestBackfill_IdempotentAndMatchesInsertPath(t *testing.T) {
	imported := openTestStore(t)
	inserted := openLinkedStore(t)
	ctx := context.Background()

	_, err := imported.Import(ctx, unlinkedHistory())
	require.NoError(t, err)
	for _, r := range []record.Record{
		{ID: "c1-s1", Conversation: "conv-1", Seq: 1},
		{ID: "c2-s1", Conversation: "conv-2", Seq: 1},
		{ID: "c1-s2", Conversation: "conv-1", Seq: 2},
		{ID: "c2-s3", Conversation: "conv-2", Seq: 3},
		{ID: "c1-s4", Conversation: "conv-1", Seq: 4},
	} {
		_, err := inserted.Insert(ctx, r)
		require.NoError(t, err)
	}

	_, err = link.NewBackfill().RepairAllLinks(ctx, imported)
	require.NoError(t, err)
	first := digest(t, imported)
	assert.Equal(t, digest(t, inserted), first)

	report, err := link.NewBackfill().RepairAllLinks(ctx, imported)
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
	assert.Equal(t, first, digest(t, imported))
}

func TestBackfill_DuplicateSeqLeavesStoreUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Import(ctx, append(unlinkedHistory(),
		record.Record{ID: "c1-s2-dup", Conversation: "conv-1", Seq: 2},
	))
	require.NoError(t, err)
	before := digest(t, s)

	_, err = link.NewBackfill().RepairAllLinks(ctx, s)
	require.Error(t, err)
	assert.True(t, link.IsInvariantViolation(err))
	assert.Equal(t, before, digest(t, s))
}

func TestBulk_ErrorDiscardsStagedWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Import(ctx, unlinkedHistory())
	require.NoError(t, err)
	boom := errors.New("boom")

	err = s.Bulk(ctx, func(tx link.BulkTx) error {
		scanner := tx.(link.OrderedScanner)
		if err := scanner.SetPrevious(ctx, "c1-s2", "c1-s1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.ReadMessage(ctx, "c1-s2")
	require.NoError(t, err)
	assert.Empty(t, got.Previous)
}

func TestBulk_SetPreviousUnknownID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Bulk(ctx, func(tx link.BulkTx) error {
		return tx.(link.OrderedScanner).SetPrevious(ctx, "missing", "")
	})
	assert.Error(t, err)
}

func TestConversations_Sorted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Import(ctx, unlinkedHistory())
	require.NoError(t, err)

	convs, err := s.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1", "conv-2"}, convs)

	empty, err := s.ReadConversation(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
