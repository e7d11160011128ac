package realtime

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quyphuc2111/smartlab-sfu/config"
)

func newTestManager(t *testing.T, numWorkers int) (*Manager, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine()
	cfg := config.SFUConfig{
		NumWorkers:         numWorkers,
		MaxClientsPerRoom:  50,
		MaxIncomingBitrate: 6_000_000,
	}
	m, err := NewManager(context.Background(), cfg, eng, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, eng
}

func TestManagerCreatesConfiguredWorkers(t *testing.T) {
	_, eng := newTestManager(t, 3)
	require.Len(t, eng.workers, 3)
}

func TestManagerFailsWhenWorkerCannotStart(t *testing.T) {
	eng := newFakeEngine()
	eng.failWorker = true
	_, err := NewManager(context.Background(), config.SFUConfig{NumWorkers: 1}, eng, zap.NewNop())
	require.Error(t, err)
}

func TestManagerGetOrCreateRoomIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, 2)

	r1, err := m.GetOrCreateRoom(context.Background(), "classroom")
	require.NoError(t, err)
	r2, err := m.GetOrCreateRoom(context.Background(), "classroom")
	require.NoError(t, err)
	require.Same(t, r1, r2)

	got, ok := m.Room("classroom")
	require.True(t, ok)
	require.Same(t, r1, got)
}

func TestManagerSpreadsRoomsRoundRobin(t *testing.T) {
	m, eng := newTestManager(t, 3)

	for i := 0; i < 6; i++ {
		_, err := m.GetOrCreateRoom(context.Background(), fmt.Sprintf("room-%d", i))
		require.NoError(t, err)
	}
	for _, w := range eng.workers {
		require.Equal(t, 2, w.routerCount())
	}
}

func TestManagerCloseRoomIfEmpty(t *testing.T) {
	m, _ := newTestManager(t, 1)
	room, err := m.GetOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)

	// Occupied rooms survive the sweep.
	require.NoError(t, room.AddPeer(NewPeer("a", "A", false, nil)))
	m.CloseRoomIfEmpty("r1")
	_, ok := m.Room("r1")
	require.True(t, ok)

	room.RemovePeer("a")
	m.CloseRoomIfEmpty("r1")
	_, ok = m.Room("r1")
	require.False(t, ok)
}

func TestManagerCloseRoomIfEmptyUnknownRoom(t *testing.T) {
	m, _ := newTestManager(t, 1)
	m.CloseRoomIfEmpty("ghost")
}

func TestManagerStats(t *testing.T) {
	m, _ := newTestManager(t, 1)
	room, err := m.GetOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)

	peer := NewPeer("a", "A", true, nil)
	require.NoError(t, room.AddPeer(peer))
	peer.AddProducer(&fakeProducer{id: "p1", kind: "video"})

	s := m.Stats()
	require.Equal(t, 1, s.Rooms)
	require.Equal(t, 1, s.Peers)
	require.Equal(t, 1, s.Producers)
	require.Equal(t, 0, s.Consumers)
}

func TestManagerTransportOptions(t *testing.T) {
	m, _ := newTestManager(t, 1)
	opts := m.TransportOptions()
	require.Equal(t, 6_000_000, opts.InitialAvailableOutgoingBitrate)
	require.Equal(t, 6_000_000, opts.MaxIncomingBitrate)
}
