package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// Store is the store surface the conformance suite drives.
type Store interface {
	link.BulkStore
	Insert(ctx context.Context, rec record.Record) (record.Record, error)
	Import(ctx context.Context, recs []record.Record) (int, error)
	ReadConversation(ctx context.Context, conversation string) ([]record.Record, error)
	ReadAll(ctx context.Context) ([]record.Record, error)
}

// OpenFunc returns an empty store with the linker registered. The suite
// closes nothing; register cleanup with t.Cleanup.
type OpenFunc func(t *testing.T) Store

// RunConformance checks the chain properties every backend must hold:
// chain correctness, backfill idempotence, termination of every chain,
// conversation isolation and ordering of concurrent inserts.
func RunConformance(t *testing.T, open OpenFunc) {
	t.Run("InsertsKeepChainCorrect", func(t *testing.T) { testInsertsKeepChainCorrect(t, open) })
	t.Run("BackfillRepairsImportedHistory", func(t *testing.T) { testBackfillRepairsImportedHistory(t, open) })
	t.Run("BackfillIsIdempotent", func(t *testing.T) { testBackfillIsIdempotent(t, open) })
	t.Run("BackfillMatchesLinker", func(t *testing.T) { testBackfillMatchesLinker(t, open) })
	t.Run("ChainsTerminate", func(t *testing.T) { testChainsTerminate(t, open) })
	t.Run("ConversationIsolation", func(t *testing.T) { testConversationIsolation(t, open) })
	t.Run("ConcurrentAllocatedInserts", func(t *testing.T) { testConcurrentAllocatedInserts(t, open) })
	t.Run("SuccessiveInsertsLink", func(t *testing.T) { testSuccessiveInsertsLink(t, open) })
	t.Run("DuplicateSequenceRejected", func(t *testing.T) { testDuplicateSequenceRejected(t, open) })
	t.Run("FailedBackfillLeavesState", func(t *testing.T) { testFailedBackfillLeavesState(t, open) })
}

func backfill(t *testing.T, s Store) link.Report {
	t.Helper()
	report, err := link.NewBackfill().RepairAllLinks(context.Background(), s)
	require.NoError(t, err)
	return report
}

func readAll(t *testing.T, s Store) []record.Record {
	t.Helper()
	recs, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	return recs
}

// Digest returns the chain digest of everything s holds.
func Digest(t *testing.T, s Store) string {
	t.Helper()
	d, err := record.ChainDigest(record.RecordLinks(readAll(t, s)))
	require.NoError(t, err)
	return d
}

// RequireValidChain fails the test when any record in s breaks the chain.
func RequireValidChain(t *testing.T, s Store) {
	t.Helper()
	findings := link.Verify(readAll(t, s))
	require.Empty(t, findings, "chain findings: %v", findings)
}

func testInsertsKeepChainCorrect(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()

	for _, rec := range History(NewIDSequence("ins"), 4, 6) {
		_, err := s.Insert(ctx, rec)
		require.NoError(t, err)
	}

	RequireValidChain(t, s)
	assert.Len(t, readAll(t, s), 24)
}

func testBackfillRepairsImportedHistory(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()

	recs := Shuffled(History(NewIDSequence("imp"), 5, 5))
	n, err := s.Import(ctx, recs)
	require.NoError(t, err)
	require.Equal(t, len(recs), n)

	report := backfill(t, s)
	assert.Equal(t, int64(25), report.Records)
	assert.Equal(t, int64(5), report.Conversations)
	// The first record of each conversation keeps its empty link.
	assert.Equal(t, int64(20), report.Changed)

	RequireValidChain(t, s)
	want, err := link.ComputeLinks(recs)
	require.NoError(t, err)
	for _, r := range readAll(t, s) {
		assert.Equal(t, want[r.ID], r.Previous, "record %s", r.ID)
	}
}

func testBackfillIsIdempotent(t *testing.T, open OpenFunc) {
	s := open(t)
	_, err := s.Import(context.Background(), History(NewIDSequence("idem"), 3, 4))
	require.NoError(t, err)

	backfill(t, s)
	first := Digest(t, s)

	report := backfill(t, s)
	assert.Equal(t, int64(0), report.Changed)
	assert.Equal(t, first, Digest(t, s))
}

func testBackfillMatchesLinker(t *testing.T, open OpenFunc) {
	ctx := context.Background()
	recs := History(NewIDSequence("same"), 3, 5)

	linked := open(t)
	for _, rec := range recs {
		_, err := linked.Insert(ctx, rec)
		require.NoError(t, err)
	}

	imported := open(t)
	_, err := imported.Import(ctx, Shuffled(recs))
	require.NoError(t, err)
	backfill(t, imported)

	assert.Equal(t, Digest(t, linked), Digest(t, imported))
}

func testChainsTerminate(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()

	_, err := s.Import(ctx, History(NewIDSequence("walk"), 3, 4))
	require.NoError(t, err)
	backfill(t, s)
	// Out-of-order inserts leave stale links behind; they must still end.
	for _, seq := range []int64{100, 50, 75} {
		_, err := s.Insert(ctx, record.Record{ID: fmt.Sprintf("late-%d", seq), Conversation: ConversationName(0), Seq: seq})
		require.NoError(t, err)
	}

	recs := readAll(t, s)
	byID := make(map[string]record.Record, len(recs))
	size := make(map[string]int)
	for _, r := range recs {
		byID[r.ID] = r
		size[r.Conversation]++
	}

	for _, r := range recs {
		steps := 0
		for cur := r; cur.HasPrevious(); steps++ {
			require.NotEqual(t, cur.ID, cur.Previous, "self reference at %s", cur.ID)
			require.LessOrEqual(t, steps, size[r.Conversation]-1, "chain from %s does not terminate", r.ID)
			next, ok := byID[cur.Previous]
			require.True(t, ok, "dangling previous %q at %s", cur.Previous, cur.ID)
			require.Equal(t, r.Conversation, next.Conversation)
			cur = next
		}
	}
}

func testConversationIsolation(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()

	_, err := s.Import(ctx, History(NewIDSequence("iso"), 2, 4))
	require.NoError(t, err)
	backfill(t, s)

	before, err := s.ReadConversation(ctx, ConversationName(1))
	require.NoError(t, err)

	for _, seq := range []int64{3, 100, 1, 42} {
		_, err := s.Insert(ctx, record.Record{ID: fmt.Sprintf("a-%d", seq), Conversation: ConversationName(0), Seq: seq * 1000})
		require.NoError(t, err)
	}

	after, err := s.ReadConversation(ctx, ConversationName(1))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func testConcurrentAllocatedInserts(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()
	policy := link.RetryPolicy{MaxAttempts: 10, BaseDelay: 0, MaxDelay: 0}

	const writers, perWriter = 8, 10
	ids := NewIDSequence("con")

	var mu sync.Mutex
	var stored []record.Record

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < writers; w++ {
		conversation := ConversationName(w % 2)
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				rec := record.Record{ID: ids.Next(), Conversation: conversation}
				var got record.Record
				err := link.Retry(gctx, policy, func(ctx context.Context) error {
					var err error
					got, err = s.Insert(ctx, rec)
					return err
				})
				if err != nil {
					return err
				}
				mu.Lock()
				stored = append(stored, got)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, stored, writers*perWriter)

	for _, r := range stored {
		assert.Positive(t, r.Seq, "record %s", r.ID)
	}
	RequireValidChain(t, s)
}

func testSuccessiveInsertsLink(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()

	five, err := s.Insert(ctx, record.Record{ID: "five", Conversation: "p", Seq: 5})
	require.NoError(t, err)

	// six starts only after five is visible.
	six, err := s.Insert(ctx, record.Record{ID: "six", Conversation: "p", Seq: 6})
	require.NoError(t, err)
	assert.Equal(t, five.ID, six.Previous)

	allocated, err := s.Insert(ctx, record.Record{ID: "next", Conversation: "p"})
	require.NoError(t, err)
	assert.Greater(t, allocated.Seq, six.Seq)
	assert.Equal(t, six.ID, allocated.Previous)
}

func testDuplicateSequenceRejected(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, record.Record{ID: "one", Conversation: "d", Seq: 1})
	require.NoError(t, err)
	_, err = s.Insert(ctx, record.Record{ID: "again", Conversation: "d", Seq: 1})
	require.Error(t, err)
	assert.True(t, link.IsInvariantViolation(err), "got %v", err)

	recs, err := s.ReadConversation(ctx, "d")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func testFailedBackfillLeavesState(t *testing.T, open OpenFunc) {
	s := open(t)
	ctx := context.Background()

	_, err := s.Import(ctx, []record.Record{
		{ID: "ok-1", Conversation: "a", Seq: 1},
		{ID: "ok-2", Conversation: "a", Seq: 2},
		{ID: "dup-1", Conversation: "b", Seq: 7},
		{ID: "dup-2", Conversation: "b", Seq: 7},
	})
	require.NoError(t, err)
	before := Digest(t, s)

	_, err = link.NewBackfill().RepairAllLinks(ctx, s)
	require.Error(t, err)
	assert.True(t, link.IsInvariantViolation(err), "got %v", err)
	assert.Equal(t, before, Digest(t, s))
}
