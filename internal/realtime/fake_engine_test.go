package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/quyphuc2111/smartlab-sfu/internal/engine"
)

// fakeEngine implements the engine capability surface in memory so the
// signaling core can be exercised without media.
type fakeEngine struct {
	mu      sync.Mutex
	workers []*fakeWorker
	seq     int

	failWorker bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) NewWorker(context.Context) (engine.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWorker {
		return nil, errors.New("worker spawn failed")
	}
	w := &fakeWorker{engine: e}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *fakeEngine) nextID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

type fakeWorker struct {
	engine *fakeEngine

	mu      sync.Mutex
	routers int
	closed  bool
}

func (w *fakeWorker) NewRouter(_ context.Context, _ []engine.CodecCapability) (engine.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, engine.ErrClosed
	}
	w.routers++
	return &fakeRouter{
		engine:     w.engine,
		caps:       json.RawMessage(`{"codecs":[{"kind":"audio","mimeType":"audio/opus","clockRate":48000}]}`),
		canConsume: true,
	}, nil
}

func (w *fakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWorker) routerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.routers
}

type fakeRouter struct {
	engine     *fakeEngine
	caps       json.RawMessage
	canConsume bool

	mu         sync.Mutex
	closed     bool
	transports []*fakeTransport

	failTransport bool
}

func (r *fakeRouter) RTPCapabilities() json.RawMessage { return r.caps }

func (r *fakeRouter) NewWebRTCTransport(context.Context, engine.TransportOptions) (engine.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTransport {
		return nil, errors.New("transport allocation failed")
	}
	t := &fakeTransport{
		engine: r.engine,
		id:     r.engine.nextID("transport"),
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *fakeRouter) CanConsume(engine.Producer, json.RawMessage) bool { return r.canConsume }

func (r *fakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeTransport struct {
	engine *fakeEngine
	id     string

	mu        sync.Mutex
	connected bool
	closed    bool

	failProduce bool
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) ICEParameters() json.RawMessage {
	return json.RawMessage(`{"usernameFragment":"uf","password":"pw","iceLite":true}`)
}

func (t *fakeTransport) ICECandidates() json.RawMessage {
	return json.RawMessage(`[{"foundation":"f","priority":1,"ip":"127.0.0.1","protocol":"udp","port":40000,"type":"host"}]`)
}

func (t *fakeTransport) DTLSParameters() json.RawMessage {
	return json.RawMessage(`{"role":"auto","fingerprints":[{"algorithm":"sha-256","value":"00"}]}`)
}

func (t *fakeTransport) Connect(context.Context, json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrClosed
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(_ context.Context, kind engine.Kind, _ json.RawMessage) (engine.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failProduce {
		return nil, errors.New("produce failed")
	}
	if !t.connected {
		return nil, engine.ErrTransportNotConnected
	}
	return &fakeProducer{id: t.engine.nextID("producer"), kind: kind}, nil
}

func (t *fakeTransport) Consume(_ context.Context, producer engine.Producer, _ json.RawMessage) (engine.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, engine.ErrClosed
	}
	return &fakeConsumer{
		id:       t.engine.nextID("consumer"),
		producer: producer,
		params:   json.RawMessage(`{"codecs":[],"encodings":[{"ssrc":1234}]}`),
	}, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeProducer struct {
	id   string
	kind engine.Kind

	mu     sync.Mutex
	closed bool
}

func (p *fakeProducer) ID() string        { return p.id }
func (p *fakeProducer) Kind() engine.Kind { return p.kind }

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	id       string
	producer engine.Producer
	params   json.RawMessage

	mu      sync.Mutex
	resumed bool
	closed  bool
}

func (c *fakeConsumer) ID() string                     { return c.id }
func (c *fakeConsumer) ProducerID() string             { return c.producer.ID() }
func (c *fakeConsumer) Kind() engine.Kind              { return c.producer.Kind() }
func (c *fakeConsumer) RTPParameters() json.RawMessage { return c.params }

func (c *fakeConsumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrClosed
	}
	c.resumed = true
	return nil
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
