package crdt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	replicaA = uuid.UUID{0x0a}
	replicaB = uuid.UUID{0x0b}
)

func aid(seq uint64) ID { return ID{Seq: seq, Replica: replicaA} }
func bid(seq uint64) ID { return ID{Seq: seq, Replica: replicaB} }

func note(key string) Event {
	return Event{Keys: []string{key}, Duration: Quarter}
}

func keysOf(t *testing.T, s *Sequence) []string {
	t.Helper()
	var out []string
	for _, ev := range s.Events() {
		require.Len(t, ev.Keys, 1)
		out = append(out, ev.Keys[0])
	}
	return out
}

func TestInsertAfterRoot(t *testing.T) {
	s := NewSequence()
	require.NoError(t, s.Insert(aid(1), Root, note("c/4")))
	require.NoError(t, s.Insert(aid(2), aid(1), note("d/4")))
	require.NoError(t, s.Insert(aid(3), aid(2), note("e/4")))
	assert.Equal(t, []string{"c/4", "d/4", "e/4"}, keysOf(t, s))
}

func TestInsertUnknownOrigin(t *testing.T) {
	s := NewSequence()
	err := s.Insert(aid(1), bid(9), note("c/4"))
	require.ErrorIs(t, err, ErrUnknownOrigin)
	assert.Empty(t, s.Events())
}

func TestConcurrentInsertsSameOriginConverge(t *testing.T) {
	// Two replicas each insert a note after root with no prior state.
	left := NewSequence()
	require.NoError(t, left.Insert(aid(1), Root, note("c/4")))
	require.NoError(t, left.Insert(bid(1), Root, note("g/4")))

	// Same ops, opposite arrival order.
	right := NewSequence()
	require.NoError(t, right.Insert(bid(1), Root, note("g/4")))
	require.NoError(t, right.Insert(aid(1), Root, note("c/4")))

	// Higher identifier sorts later: bid(1) > aid(1) by replica tiebreak.
	assert.Equal(t, []string{"c/4", "g/4"}, keysOf(t, left))
	assert.Equal(t, keysOf(t, left), keysOf(t, right))
}

func TestConcurrentRunsDoNotInterleave(t *testing.T) {
	// Replica A types c-d-e while replica B concurrently types x-y
	// at the same spot. Each run must stay contiguous on merge.
	aOps := []Op{
		{Kind: OpInsert, ID: aid(1), Origin: Root, Event: note("c/4")},
		{Kind: OpInsert, ID: aid(2), Origin: aid(1), Event: note("d/4")},
		{Kind: OpInsert, ID: aid(3), Origin: aid(2), Event: note("e/4")},
	}
	bOps := []Op{
		{Kind: OpInsert, ID: bid(1), Origin: Root, Event: note("x/4")},
		{Kind: OpInsert, ID: bid(2), Origin: bid(1), Event: note("y/4")},
	}

	interleavings := [][]Op{
		append(append([]Op{}, aOps...), bOps...),
		append(append([]Op{}, bOps...), aOps...),
		{aOps[0], bOps[0], aOps[1], bOps[1], aOps[2]},
		{bOps[0], aOps[0], bOps[1], aOps[1], aOps[2]},
	}

	var want []string
	for i, ops := range interleavings {
		s := NewSequence()
		for _, op := range ops {
			require.NoError(t, s.Merge(op))
		}
		got := keysOf(t, s)
		if i == 0 {
			want = got
			// the two runs must be contiguous
			assert.Contains(t, [][]string{
				{"c/4", "d/4", "e/4", "x/4", "y/4"},
				{"x/4", "y/4", "c/4", "d/4", "e/4"},
			}, got)
		}
		assert.Equal(t, want, got, "interleaving %d diverged", i)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	s := NewSequence()
	ins := Op{Kind: OpInsert, ID: aid(1), Origin: Root, Event: note("c/4")}
	require.NoError(t, s.Merge(ins))
	require.NoError(t, s.Merge(ins))
	assert.Equal(t, []string{"c/4"}, keysOf(t, s))

	del := Op{Kind: OpDelete, ID: aid(1)}
	require.NoError(t, s.Merge(del))
	require.NoError(t, s.Merge(del))
	assert.Empty(t, s.Events())
	assert.Equal(t, 0, s.Len())
}

func TestDeleteBeforeInsert(t *testing.T) {
	s := NewSequence()
	// The delete arrives first: nothing visible changes yet.
	assert.False(t, s.Delete(bid(1)))
	assert.Empty(t, s.Events())

	// The insert catches up and must land already tombstoned.
	require.NoError(t, s.Insert(bid(1), Root, note("c/4")))
	assert.Empty(t, s.Events())
	assert.True(t, s.Contains(bid(1)))
}

func TestDeleteKeepsElementForOrdering(t *testing.T) {
	s := NewSequence()
	require.NoError(t, s.Insert(aid(1), Root, note("c/4")))
	require.NoError(t, s.Insert(aid(2), aid(1), note("d/4")))
	assert.True(t, s.Delete(aid(1)))
	assert.Equal(t, []string{"d/4"}, keysOf(t, s))

	// A concurrent insert anchored on the tombstone still resolves;
	// bid(3) is the higher sibling of aid(1) so it sorts after aid(2).
	require.NoError(t, s.Insert(bid(3), aid(1), note("x/4")))
	assert.Equal(t, []string{"d/4", "x/4"}, keysOf(t, s))
	assert.Equal(t, 2, s.Len())
	assert.Len(t, s.Elements(), 3)
}

func TestTailID(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, Root, s.TailID())
	require.NoError(t, s.Insert(aid(1), Root, note("c/4")))
	require.NoError(t, s.Insert(aid(2), aid(1), note("d/4")))
	assert.Equal(t, aid(2), s.TailID())
}

func TestLiveIDsMatchesEvents(t *testing.T) {
	s := NewSequence()
	require.NoError(t, s.Insert(aid(1), Root, note("c/4")))
	require.NoError(t, s.Insert(aid(2), aid(1), note("d/4")))
	s.Delete(aid(1))
	assert.Equal(t, []ID{aid(2)}, s.LiveIDs())
}

func TestPositionIndexSurvivesMidDocumentInserts(t *testing.T) {
	// Repeated inserts after the head shift every later element; the
	// position index must keep tracking, or later integrations would
	// resolve origins to stale slots.
	s := NewSequence()
	require.NoError(t, s.Insert(aid(1), Root, note("c/4")))
	for i := uint64(2); i <= 50; i++ {
		require.NoError(t, s.Insert(aid(i), aid(1), note("d/4")))
	}
	s.Delete(aid(25))

	// Each element must still integrate new children in place.
	require.NoError(t, s.Insert(bid(51), aid(25), note("e/4")))
	require.NoError(t, s.Insert(bid(52), aid(1), note("f/4")))

	for i, el := range s.Elements() {
		assert.Equal(t, i, s.indexOf(el.ID), el.ID)
	}
	assert.Equal(t, -1, s.indexOf(bid(99)))
}

func BenchmarkInsertAfterHead(b *testing.B) {
	s := NewSequence()
	if err := s.Insert(aid(1), Root, note("c/4")); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Insert(aid(uint64(i+2)), aid(1), note("d/4")); err != nil {
			b.Fatal(err)
		}
	}
}
