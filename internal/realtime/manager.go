package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quyphuc2111/smartlab-sfu/config"
	"github.com/quyphuc2111/smartlab-sfu/internal/engine"
	"github.com/quyphuc2111/smartlab-sfu/internal/metrics"
)

// initialAvailableOutgoingBitrate seeds the engine's bandwidth estimator
// for every transport, in bits/s.
const initialAvailableOutgoingBitrate = 6_000_000

// Manager owns the worker pool and the room registry. Rooms are created
// lazily on first join, spread across workers round-robin, and discarded
// when the last peer leaves.
type Manager struct {
	cfg    config.SFUConfig
	log    *zap.Logger
	codecs []engine.CodecCapability

	workers []engine.Worker
	next    atomic.Uint64

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager creates the configured number of media workers. A worker that
// cannot start is fatal to the process.
func NewManager(ctx context.Context, cfg config.SFUConfig, eng engine.Engine, log *zap.Logger) (*Manager, error) {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	m := &Manager{
		cfg:    cfg,
		log:    log.Named("manager"),
		codecs: engine.DefaultCodecs(),
		rooms:  make(map[string]*Room),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		w, err := eng.NewWorker(ctx)
		if err != nil {
			for _, created := range m.workers {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create worker %d: %w", i, err)
		}
		m.workers = append(m.workers, w)
	}
	m.log.Info("workers started", zap.Int("count", len(m.workers)))
	return m, nil
}

// TransportOptions returns the options every WebRTC transport is created with.
func (m *Manager) TransportOptions() engine.TransportOptions {
	return engine.TransportOptions{
		InitialAvailableOutgoingBitrate: initialAvailableOutgoingBitrate,
		MaxIncomingBitrate:              m.cfg.MaxIncomingBitrate,
	}
}

// Room looks up an existing room.
func (m *Manager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// GetOrCreateRoom returns the room, creating it on the next worker
// round-robin if absent. The router is created outside the registry lock;
// a concurrent creation of the same room wins by insertion order and the
// loser's router is released.
func (m *Manager) GetOrCreateRoom(ctx context.Context, id string) (*Room, error) {
	if r, ok := m.Room(id); ok {
		return r, nil
	}

	worker := m.workers[m.next.Add(1)%uint64(len(m.workers))]
	router, err := worker.NewRouter(ctx, m.codecs)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	m.mu.Lock()
	if existing, ok := m.rooms[id]; ok {
		m.mu.Unlock()
		_ = router.Close()
		return existing, nil
	}
	r := newRoom(id, router, m.cfg.MaxClientsPerRoom, m.log)
	m.rooms[id] = r
	m.mu.Unlock()

	metrics.RoomsActive.Inc()
	m.log.Info("room created", zap.String("room_id", id))
	return r, nil
}

// CloseRoomIfEmpty discards the room if its last peer left. Called after
// every peer removal.
func (m *Manager) CloseRoomIfEmpty(id string) {
	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok || !r.IsEmpty() {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, id)
	m.mu.Unlock()

	r.Close()
	metrics.RoomsActive.Dec()
}

// Stats is a point-in-time view of the registry, served on /stats.
type Stats struct {
	Rooms     int `json:"rooms"`
	Peers     int `json:"peers"`
	Producers int `json:"producers"`
	Consumers int `json:"consumers"`
}

// Stats snapshots room and peer counts.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	s := Stats{Rooms: len(rooms)}
	for _, r := range rooms {
		for _, p := range r.Peers() {
			s.Peers++
			s.Producers += p.ProducerCount()
			s.Consumers += p.ConsumerCount()
		}
	}
	return s
}

// Close tears down every room and worker, for shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Close()
		metrics.RoomsActive.Dec()
	}
	for _, w := range m.workers {
		_ = w.Close()
	}
	m.log.Info("manager closed")
}
