package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quyphuc2111/smartlab-sfu/internal/engine"
)

func newTestRoom(t *testing.T, maxPeers int) (*Room, *fakeRouter) {
	t.Helper()
	eng := newFakeEngine()
	w, err := eng.NewWorker(context.Background())
	require.NoError(t, err)
	router, err := w.NewRouter(context.Background(), engine.DefaultCodecs())
	require.NoError(t, err)
	return newRoom("r1", router, maxPeers, zap.NewNop()), router.(*fakeRouter)
}

func TestRoomSingleTeacherInvariant(t *testing.T) {
	room, _ := newTestRoom(t, 10)

	require.NoError(t, room.AddPeer(NewPeer("t1", "Teacher", true, nil)))
	require.True(t, room.HasTeacher())

	err := room.AddPeer(NewPeer("t2", "Impostor", true, nil))
	require.ErrorIs(t, err, ErrTeacherExists)
	require.Equal(t, 1, room.PeerCount())

	// Students are unaffected by the teacher slot.
	require.NoError(t, room.AddPeer(NewPeer("s1", "Student", false, nil)))
	require.Equal(t, 2, room.PeerCount())
}

func TestRoomTeacherSlotClearsOnRemoval(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	require.NoError(t, room.AddPeer(NewPeer("t1", "Teacher", true, nil)))

	removed := room.RemovePeer("t1")
	require.NotNil(t, removed)
	require.False(t, room.HasTeacher())
	require.Nil(t, room.Teacher())

	// A new teacher can claim the slot afterwards.
	require.NoError(t, room.AddPeer(NewPeer("t2", "Teacher2", true, nil)))
	require.True(t, room.HasTeacher())
}

func TestRoomRejectsWhenFull(t *testing.T) {
	room, _ := newTestRoom(t, 2)
	require.NoError(t, room.AddPeer(NewPeer("a", "A", false, nil)))
	require.NoError(t, room.AddPeer(NewPeer("b", "B", false, nil)))
	require.ErrorIs(t, room.AddPeer(NewPeer("c", "C", false, nil)), ErrRoomFull)
}

func TestRoomRejectsDuplicatePeerID(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	require.NoError(t, room.AddPeer(NewPeer("a", "A", false, nil)))
	require.ErrorIs(t, room.AddPeer(NewPeer("a", "A again", false, nil)), ErrPeerExists)
}

func TestRoomRemovePeerClosesResources(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	peer := NewPeer("a", "A", false, nil)
	require.NoError(t, room.AddPeer(peer))

	transport := &fakeTransport{engine: newFakeEngine(), id: "t1"}
	require.NoError(t, peer.SetTransport(DirectionSend, transport))
	producer := &fakeProducer{id: "p1", kind: engine.KindVideo}
	peer.AddProducer(producer)
	consumer := &fakeConsumer{id: "c1", producer: producer}
	peer.AddConsumer(consumer)

	removed := room.RemovePeer("a")
	require.NotNil(t, removed)
	require.True(t, transport.isClosed())
	require.True(t, producer.isClosed())
	require.True(t, consumer.isClosed())

	_, ok := room.Peer("a")
	require.False(t, ok)
	require.True(t, room.IsEmpty())
}

func TestRoomRemoveUnknownPeerReturnsNil(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	require.Nil(t, room.RemovePeer("ghost"))
}

func TestRoomFindProducer(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	owner := NewPeer("t1", "Teacher", true, nil)
	require.NoError(t, room.AddPeer(owner))
	require.NoError(t, room.AddPeer(NewPeer("s1", "Student", false, nil)))

	producer := &fakeProducer{id: "p1", kind: engine.KindVideo}
	owner.AddProducer(producer)

	found, foundOwner, ok := room.FindProducer("p1")
	require.True(t, ok)
	require.Equal(t, "p1", found.ID())
	require.Equal(t, "t1", foundOwner.ID)

	_, _, ok = room.FindProducer("nope")
	require.False(t, ok)
}

func TestRoomTeacherProducersOnlyListsTeacher(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	teacher := NewPeer("t1", "Teacher", true, nil)
	student := NewPeer("s1", "Student", false, nil)
	require.NoError(t, room.AddPeer(teacher))
	require.NoError(t, room.AddPeer(student))

	teacher.AddProducer(&fakeProducer{id: "tp", kind: engine.KindVideo})
	student.AddProducer(&fakeProducer{id: "sp", kind: engine.KindAudio})

	infos := room.TeacherProducers()
	require.Len(t, infos, 1)
	require.Equal(t, "tp", infos[0].ProducerID)
	require.Equal(t, "t1", infos[0].PeerID)
}

func TestRoomTeacherProducersEmptyWithoutTeacher(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	require.NoError(t, room.AddPeer(NewPeer("s1", "Student", false, nil)))
	require.Empty(t, room.TeacherProducers())
}

func TestRoomStudentsExcludesTeacher(t *testing.T) {
	room, _ := newTestRoom(t, 10)
	require.NoError(t, room.AddPeer(NewPeer("t1", "Teacher", true, nil)))
	require.NoError(t, room.AddPeer(NewPeer("s1", "Student", false, nil)))
	require.NoError(t, room.AddPeer(NewPeer("s2", "Student", false, nil)))

	students := room.Students()
	require.Len(t, students, 2)
	for _, s := range students {
		require.False(t, s.IsTeacher)
	}
}

func TestRoomCloseReleasesRouterAndPeers(t *testing.T) {
	room, router := newTestRoom(t, 10)
	peer := NewPeer("a", "A", false, nil)
	require.NoError(t, room.AddPeer(peer))
	transport := &fakeTransport{engine: newFakeEngine(), id: "t1"}
	require.NoError(t, peer.SetTransport(DirectionRecv, transport))

	room.Close()
	require.True(t, router.isClosed())
	require.True(t, transport.isClosed())
	require.True(t, room.IsEmpty())

	// Closing twice is harmless.
	room.Close()
}
