package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/scoresync/pkg/crdt"
	"github.com/astromechza/scoresync/pkg/session"
)

func TestClientsConvergeThroughRelay(t *testing.T) {
	ts := httptest.NewServer(NewServer())
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := session.New(map[string]string{session.KeyTimeSignature: "4/4"})
	b := session.New(map[string]string{session.KeyTimeSignature: "4/4"})

	ca, err := NewClient(base, "duo", a)
	require.NoError(t, err)
	cb, err := NewClient(base, "duo", b)
	require.NoError(t, err)
	go func() { _ = ca.Run(ctx) }()
	go func() { _ = cb.Run(ctx) }()

	_, buf, err := a.Append(crdt.Event{Keys: []string{"c/4"}, Duration: crdt.Quarter})
	require.NoError(t, err)
	ca.Send(buf)

	require.Eventually(t, func() bool { return len(b.Events()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, a.Events(), b.Events())
}

func TestLateJoinerCatchesUpViaSnapshotExchange(t *testing.T) {
	s := NewServer()
	ts := httptest.NewServer(s)
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := session.New(nil)
	for _, k := range []string{"c/4", "d/4", "e/4"} {
		_, _, err := a.Append(crdt.Event{Keys: []string{k}, Duration: crdt.Quarter})
		require.NoError(t, err)
	}

	ca, err := NewClient(base, "trio", a)
	require.NoError(t, err)
	go func() { _ = ca.Run(ctx) }()

	// The early session must be in the room before the late one joins,
	// otherwise nobody hears the joiner's snapshot broadcast.
	require.Eventually(t, func() bool { return s.RoomCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	// The late joiner broadcasts its (empty) snapshot on connect; the
	// early session sees it is ahead and answers with its own.
	b := session.New(nil)
	cb, err := NewClient(base, "trio", b)
	require.NoError(t, err)
	go func() { _ = cb.Run(ctx) }()

	require.Eventually(t, func() bool { return len(b.Events()) == 3 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, a.Events(), b.Events())
}

func TestDivergedPeersReconcileOnReconnect(t *testing.T) {
	s := NewServer()
	ts := httptest.NewServer(s)
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both sessions mutate while offline.
	a := session.New(nil)
	b := session.New(nil)
	_, _, err := a.Append(crdt.Event{Keys: []string{"c/4"}, Duration: crdt.Quarter})
	require.NoError(t, err)
	_, _, err = b.Append(crdt.Event{Keys: []string{"g/4"}, Duration: crdt.Half})
	require.NoError(t, err)

	ca, err := NewClient(base, "duo", a)
	require.NoError(t, err)
	go func() { _ = ca.Run(ctx) }()
	require.Eventually(t, func() bool { return s.RoomCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	cb, err := NewClient(base, "duo", b)
	require.NoError(t, err)
	go func() { _ = cb.Run(ctx) }()

	// b's snapshot reaches a; a is ahead (it holds c/4) so it answers
	// with its snapshot and both end identical.
	require.Eventually(t, func() bool { return len(a.Events()) == 2 && len(b.Events()) == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, a.Events(), b.Events())
}
