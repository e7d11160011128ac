package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/quyphuc2111/smartlab-sfu/internal/engine"
	"github.com/quyphuc2111/smartlab-sfu/internal/metrics"
)

var (
	// ErrRoomFull rejects joins beyond the configured room size.
	ErrRoomFull = errors.New("room is full")
	// ErrTeacherExists rejects a second teacher joining a room.
	ErrTeacherExists = errors.New("room already has a teacher")
	// ErrPeerExists rejects a join reusing a live peer id.
	ErrPeerExists = errors.New("peer id already in use")
)

// Room is an ephemeral group of peers sharing one router. At most one
// member holds the teacher role.
type Room struct {
	ID string

	router   engine.Router
	maxPeers int
	log      *zap.Logger

	mu        sync.RWMutex
	peers     map[string]*Peer
	teacherID string
	closed    bool
}

func newRoom(id string, router engine.Router, maxPeers int, log *zap.Logger) *Room {
	return &Room{
		ID:       id,
		router:   router,
		maxPeers: maxPeers,
		log:      log.With(zap.String("room_id", id)),
		peers:    make(map[string]*Peer),
	}
}

// RTPCapabilities returns the router's finalized capabilities. Callers must
// not mutate the returned bytes.
func (r *Room) RTPCapabilities() json.RawMessage {
	return r.router.RTPCapabilities()
}

// CreateTransport allocates a WebRTC transport on the room's router.
func (r *Room) CreateTransport(ctx context.Context, opts engine.TransportOptions) (engine.Transport, error) {
	return r.router.NewWebRTCTransport(ctx, opts)
}

// CanConsume reports whether a subscriber with the given capabilities can
// receive the producer.
func (r *Room) CanConsume(producer engine.Producer, rtpCapabilities json.RawMessage) bool {
	return r.router.CanConsume(producer, rtpCapabilities)
}

// AddPeer admits a peer. Capacity, the single-teacher rule and peer-id
// uniqueness are checked atomically under the room lock so concurrent
// joins cannot slip past them.
func (r *Room) AddPeer(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("room is closed")
	}
	if len(r.peers) >= r.maxPeers {
		return ErrRoomFull
	}
	if _, ok := r.peers[p.ID]; ok {
		return ErrPeerExists
	}
	if p.IsTeacher && r.teacherID != "" {
		return ErrTeacherExists
	}
	r.peers[p.ID] = p
	if p.IsTeacher {
		r.teacherID = p.ID
	}
	metrics.PeersConnected.Inc()
	r.log.Info("peer joined",
		zap.String("peer_id", p.ID),
		zap.String("name", p.Name),
		zap.Bool("is_teacher", p.IsTeacher),
	)
	return nil
}

// RemovePeer removes a peer, closes its resources and clears the teacher
// slot if it held it. Returns the removed peer so the caller can address
// broadcasts to the others, or nil if the id was not a member.
func (r *Room) RemovePeer(id string) *Peer {
	r.mu.Lock()
	p, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
		if r.teacherID == id {
			r.teacherID = ""
		}
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	p.Close()
	metrics.PeersConnected.Dec()
	r.log.Info("peer left", zap.String("peer_id", id), zap.String("name", p.Name))
	return p
}

// Peer returns a member by id.
func (r *Room) Peer(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Peers snapshots the member list. Iterations that perform I/O work on the
// snapshot, never under the room lock.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Students snapshots the non-teacher members.
func (r *Room) Students() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if !p.IsTeacher {
			out = append(out, p)
		}
	}
	return out
}

// Teacher returns the current teacher, or nil.
func (r *Room) Teacher() *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.teacherID == "" {
		return nil
	}
	return r.peers[r.teacherID]
}

// HasTeacher reports whether a teacher currently holds the room.
func (r *Room) HasTeacher() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.teacherID != ""
}

// TeacherProducers snapshots the teacher's producers at call time, used to
// prime a newly joined student. Students subscribe only to the teacher.
func (r *Room) TeacherProducers() []ProducerInfo {
	teacher := r.Teacher()
	if teacher == nil {
		return []ProducerInfo{}
	}
	producers := teacher.Producers()
	out := make([]ProducerInfo, 0, len(producers))
	for _, p := range producers {
		out = append(out, ProducerInfo{ProducerID: p.ID(), Kind: p.Kind(), PeerID: teacher.ID})
	}
	return out
}

// FindProducer locates a producer and its owner across all members.
func (r *Room) FindProducer(producerID string) (engine.Producer, *Peer, bool) {
	for _, p := range r.Peers() {
		if producer, ok := p.Producer(producerID); ok {
			return producer, p, true
		}
	}
	return nil, nil, false
}

// PeerCount returns the number of members.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IsEmpty reports whether the room has no members.
func (r *Room) IsEmpty() bool {
	return r.PeerCount() == 0
}

// Broadcast enqueues one serialized event to every member except excludeID
// (empty means everyone). A member whose queue is full is a slow or dead
// client and gets disconnected.
func (r *Room) Broadcast(data []byte, excludeID string) {
	for _, p := range r.Peers() {
		if excludeID != "" && p.ID == excludeID {
			continue
		}
		if p.client == nil {
			continue
		}
		if !p.client.enqueue(data) {
			p.client.dropSlow()
		}
	}
}

// Info is a point-in-time summary of one room, served on /rooms/:id.
type Info struct {
	RoomID     string `json:"roomId"`
	Peers      int    `json:"peers"`
	HasTeacher bool   `json:"hasTeacher"`
	Producers  int    `json:"producers"`
}

// Info summarizes the room for the HTTP API.
func (r *Room) Info() Info {
	info := Info{RoomID: r.ID, HasTeacher: r.HasTeacher()}
	for _, p := range r.Peers() {
		info.Peers++
		info.Producers += p.ProducerCount()
	}
	return info
}

// Close releases every peer's resources and the router.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	peers := r.peers
	r.peers = make(map[string]*Peer)
	r.teacherID = ""
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
		metrics.PeersConnected.Dec()
	}
	_ = r.router.Close()
	r.log.Info("room closed")
}
