package link

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steven-Chan/chat/internal/metrics"
	"github.com/Steven-Chan/chat/internal/record"
)

func conv1History() []record.Record {
	return []record.Record{
		{ID: "c1-s1", Conversation: "conv-1", Seq: 1},
		{ID: "c1-s2", Conversation: "conv-1", Seq: 2, Previous: "c1-s1"},
		{ID: "c1-s4", Conversation: "conv-1", Seq: 4, Previous: "c1-s2"},
	}
}

func TestLinkOnInsert_AppendsAfterLargestLowerSeq(t *testing.T) {
	st := newFakeStore(false, conv1History()...)
	NewLinker().Register(st)

	got, err := st.Insert(context.Background(), record.Record{ID: "c1-s5", Conversation: "conv-1", Seq: 5})
	require.NoError(t, err)
	assert.Equal(t, "c1-s4", got.Previous)
}

func TestLinkOnInsert_FirstRecordOfConversation(t *testing.T) {
	st := newFakeStore(false, conv1History()...)
	NewLinker().Register(st)

	got, err := st.Insert(context.Background(), record.Record{ID: "c2-s1", Conversation: "conv-2", Seq: 1})
	require.NoError(t, err)
	assert.Empty(t, got.Previous)
}

func TestLinkOnInsert_FillsGap(t *testing.T) {
	st := newFakeStore(false, conv1History()...)
	NewLinker().Register(st)

	got, err := st.Insert(context.Background(), record.Record{ID: "c1-s3", Conversation: "conv-1", Seq: 3})
	require.NoError(t, err)
	assert.Equal(t, "c1-s2", got.Previous)

	// Existing links are never revisited by the insert path.
	assert.Equal(t, "c1-s2", st.byID("c1-s4").Previous)
}

func TestLinkOnInsert_OverwritesCallerPrevious(t *testing.T) {
	st := newFakeStore(false, conv1History()...)
	NewLinker().Register(st)

	got, err := st.Insert(context.Background(), record.Record{ID: "c1-s9", Conversation: "conv-1", Seq: 9, Previous: "c1-s1"})
	require.NoError(t, err)
	assert.Equal(t, "c1-s4", got.Previous)
}

func TestLinkOnInsert_DuplicateSeqRejected(t *testing.T) {
	st := newFakeStore(false, conv1History()...)
	NewLinker().Register(st)

	_, err := st.Insert(context.Background(), record.Record{ID: "other", Conversation: "conv-1", Seq: 2})
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))
	assert.False(t, IsRetryable(err))
	assert.Len(t, st.records, 3)
}

func TestLinkOnInsert_InvalidRecordRejected(t *testing.T) {
	l := NewLinker()
	st := newFakeStore(false)

	for _, rec := range []record.Record{
		{Conversation: "c", Seq: 1},
		{ID: "x", Seq: 1},
		{ID: "x", Conversation: "c"},
	} {
		err := l.LinkOnInsert(context.Background(), st, &rec)
		require.Error(t, err)
		assert.True(t, IsInvariantViolation(err), "record %+v", rec)
	}
}

func TestLinkOnInsert_LookupFailureIsRetryable(t *testing.T) {
	st := newFakeStore(false, conv1History()...)
	st.lookupErr = errors.New("disk on fire")
	NewLinker().Register(st)

	_, err := st.Insert(context.Background(), record.Record{ID: "n", Conversation: "conv-1", Seq: 5})
	require.Error(t, err)
	assert.Equal(t, CodeStoreUnavailable, CodeOf(err))
	assert.True(t, IsRetryable(err))
	assert.Len(t, st.records, 3)
}

func TestLinkOnInsert_ConflictPassesThrough(t *testing.T) {
	st := newFakeStore(false)
	st.lookupErr = Conflict("begin", "conv-1", errors.New("database is locked"))

	rec := record.Record{ID: "n", Conversation: "conv-1", Seq: 1}
	err := NewLinker().LinkOnInsert(context.Background(), st, &rec)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, IsRetryable(err))
}

func TestLinkOnInsert_ContextErrorNotReclassified(t *testing.T) {
	st := newFakeStore(false)
	st.lookupErr = context.Canceled

	rec := record.Record{ID: "n", Conversation: "conv-1", Seq: 1}
	err := NewLinker().LinkOnInsert(context.Background(), st, &rec)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestRegister_Idempotent(t *testing.T) {
	st := newFakeStore(false)
	l := NewLinker()
	l.Register(st)
	l.Register(st)

	assert.Len(t, st.hooks, 1)
	assert.Contains(t, st.hooks, HookName)
}

func TestLinkOnInsert_Metrics(t *testing.T) {
	m := metrics.New()
	st := newFakeStore(false, conv1History()...)
	NewLinker(WithMetrics(m)).Register(st)

	_, err := st.Insert(context.Background(), record.Record{ID: "c1-s5", Conversation: "conv-1", Seq: 5})
	require.NoError(t, err)
	_, err = st.Insert(context.Background(), record.Record{ID: "dup", Conversation: "conv-1", Seq: 5})
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, m.Registry(), "chatlink_links_assigned_total"))
	assert.Equal(t, 1.0, counterValue(t, m.Registry(), "chatlink_link_failures_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
