package realtime

import (
	"errors"
	"sync"

	"github.com/quyphuc2111/smartlab-sfu/internal/engine"
	"github.com/quyphuc2111/smartlab-sfu/internal/metrics"
)

// ErrTransportExists is returned when a direction already holds a transport.
var ErrTransportExists = errors.New("transport already exists")

// Peer is one connected client in a room, owning its transports, producers
// and consumers. Operations on a peer are initiated almost exclusively by
// its own connection; the locks let other peers' broadcasts read the
// producer map for teacher-producer enumeration.
type Peer struct {
	ID        string
	Name      string
	IsTeacher bool

	client *Client

	transportMu   sync.RWMutex
	sendTransport engine.Transport
	recvTransport engine.Transport
	sendConnected bool
	recvConnected bool

	producersMu sync.RWMutex
	producers   map[string]engine.Producer

	consumersMu sync.RWMutex
	consumers   map[string]engine.Consumer

	closeMu sync.Mutex
	closed  bool
}

// NewPeer creates a peer bound to its connection.
func NewPeer(id, name string, isTeacher bool, client *Client) *Peer {
	return &Peer{
		ID:        id,
		Name:      name,
		IsTeacher: isTeacher,
		client:    client,
		producers: make(map[string]engine.Producer),
		consumers: make(map[string]engine.Consumer),
	}
}

// SetTransport stores the transport for a direction. Each direction holds
// at most one transport; a second set fails rather than replacing.
func (p *Peer) SetTransport(d Direction, t engine.Transport) error {
	p.transportMu.Lock()
	defer p.transportMu.Unlock()
	switch d {
	case DirectionSend:
		if p.sendTransport != nil {
			return ErrTransportExists
		}
		p.sendTransport = t
	case DirectionRecv:
		if p.recvTransport != nil {
			return ErrTransportExists
		}
		p.recvTransport = t
	}
	return nil
}

// Transport returns the transport for a direction, or nil.
func (p *Peer) Transport(d Direction) engine.Transport {
	p.transportMu.RLock()
	defer p.transportMu.RUnlock()
	if d == DirectionSend {
		return p.sendTransport
	}
	return p.recvTransport
}

// SetConnected records a completed DTLS handshake for a direction.
func (p *Peer) SetConnected(d Direction) {
	p.transportMu.Lock()
	defer p.transportMu.Unlock()
	if d == DirectionSend {
		p.sendConnected = true
	} else {
		p.recvConnected = true
	}
}

// Connected reports whether the transport in a direction completed its
// DTLS handshake.
func (p *Peer) Connected(d Direction) bool {
	p.transportMu.RLock()
	defer p.transportMu.RUnlock()
	if d == DirectionSend {
		return p.sendConnected
	}
	return p.recvConnected
}

// AddProducer stores a producer owned by this peer.
func (p *Peer) AddProducer(producer engine.Producer) {
	p.producersMu.Lock()
	p.producers[producer.ID()] = producer
	p.producersMu.Unlock()
	metrics.ProducersActive.Inc()
}

// Producer returns a producer by id.
func (p *Peer) Producer(id string) (engine.Producer, bool) {
	p.producersMu.RLock()
	defer p.producersMu.RUnlock()
	producer, ok := p.producers[id]
	return producer, ok
}

// Producers snapshots this peer's producers.
func (p *Peer) Producers() []engine.Producer {
	p.producersMu.RLock()
	defer p.producersMu.RUnlock()
	out := make([]engine.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		out = append(out, producer)
	}
	return out
}

// AddConsumer stores a consumer owned by this peer.
func (p *Peer) AddConsumer(consumer engine.Consumer) {
	p.consumersMu.Lock()
	p.consumers[consumer.ID()] = consumer
	p.consumersMu.Unlock()
	metrics.ConsumersActive.Inc()
}

// ProducerCount returns how many producers the peer holds.
func (p *Peer) ProducerCount() int {
	p.producersMu.RLock()
	defer p.producersMu.RUnlock()
	return len(p.producers)
}

// ConsumerCount returns how many consumers the peer holds.
func (p *Peer) ConsumerCount() int {
	p.consumersMu.RLock()
	defer p.consumersMu.RUnlock()
	return len(p.consumers)
}

// Consumer returns a consumer by id.
func (p *Peer) Consumer(id string) (engine.Consumer, bool) {
	p.consumersMu.RLock()
	defer p.consumersMu.RUnlock()
	consumer, ok := p.consumers[id]
	return consumer, ok
}

// Close releases the peer's media resources: consumers, then producers,
// then the receive transport, then the send transport. The engine closes
// dependents when a transport closes; the explicit drain keeps observable
// state consistent for anyone inspecting the peer mid-teardown.
func (p *Peer) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()

	p.consumersMu.Lock()
	consumers := p.consumers
	p.consumers = make(map[string]engine.Consumer)
	p.consumersMu.Unlock()
	for _, c := range consumers {
		_ = c.Close()
		metrics.ConsumersActive.Dec()
	}

	p.producersMu.Lock()
	producers := p.producers
	p.producers = make(map[string]engine.Producer)
	p.producersMu.Unlock()
	for _, producer := range producers {
		_ = producer.Close()
		metrics.ProducersActive.Dec()
	}

	p.transportMu.Lock()
	recv, send := p.recvTransport, p.sendTransport
	p.recvTransport, p.sendTransport = nil, nil
	p.sendConnected, p.recvConnected = false, false
	p.transportMu.Unlock()
	if recv != nil {
		_ = recv.Close()
	}
	if send != nil {
		_ = send.Close()
	}
}
