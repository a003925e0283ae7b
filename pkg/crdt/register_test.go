package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegister()
	assert.True(t, r.Set(aid(1), "timeSignature", "4/4"))
	v, ok := r.Get("timeSignature")
	require.True(t, ok)
	assert.Equal(t, "4/4", v)

	// A later identifier wins regardless of arrival order.
	assert.True(t, r.Set(bid(5), "timeSignature", "6/8"))
	assert.False(t, r.Set(aid(3), "timeSignature", "3/4"))
	v, _ = r.Get("timeSignature")
	assert.Equal(t, "6/8", v)
}

func TestRegisterTieBreaksByReplica(t *testing.T) {
	// Same counter from two replicas: the higher token wins on every
	// node, in either arrival order.
	r1 := NewRegister()
	r1.Set(aid(1), "timeSignature", "3/4")
	r1.Set(bid(1), "timeSignature", "6/8")

	r2 := NewRegister()
	r2.Set(bid(1), "timeSignature", "6/8")
	r2.Set(aid(1), "timeSignature", "3/4")

	v1, _ := r1.Get("timeSignature")
	v2, _ := r2.Get("timeSignature")
	assert.Equal(t, "6/8", v1)
	assert.Equal(t, v1, v2)
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegister()
	assert.True(t, r.Set(aid(1), "timeSignature", "4/4"))
	assert.False(t, r.Set(aid(1), "timeSignature", "4/4"))
}

func TestRegisterMergeRejectsWrongKind(t *testing.T) {
	r := NewRegister()
	require.Error(t, r.Merge(Op{Kind: OpInsert, ID: aid(1)}))
	require.NoError(t, r.Merge(Op{Kind: OpSet, ID: aid(1), Key: "timeSignature", Value: "4/4"}))
}

func TestRegisterEntriesRoundTrip(t *testing.T) {
	r := NewRegister()
	r.Set(aid(2), "timeSignature", "6/8")
	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Op{Kind: OpSet, ID: aid(2), Key: "timeSignature", Value: "6/8"}, entries[0])
}

func TestRegisterUnsetKey(t *testing.T) {
	r := NewRegister()
	_, ok := r.Get("timeSignature")
	assert.False(t, ok)
}
