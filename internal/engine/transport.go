package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Wire forms of the negotiation parameters exchanged with clients. Field
// names are part of the external contract.
type wireICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite"`
}

type wireICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type wireDTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type wireDTLSParameters struct {
	Role         string                `json:"role"`
	Fingerprints []wireDTLSFingerprint `json:"fingerprints"`
}

// connectParameters is what clients send on connectTransport. The embedded
// ICE credentials accompany the DTLS parameters so the transport can pair
// with the remote agent.
type connectParameters struct {
	Role          string                `json:"role"`
	Fingerprints  []wireDTLSFingerprint `json:"fingerprints"`
	ICEParameters wireICEParameters     `json:"iceParameters"`
}

type pionTransport struct {
	id     string
	router *pionRouter
	opts   TransportOptions
	log    *zap.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParams     json.RawMessage
	iceCandidates json.RawMessage
	dtlsParams    json.RawMessage

	mu        sync.Mutex
	connected bool
	closed    bool
	producers map[string]*pionProducer
	consumers map[string]*pionConsumer
}

func (r *pionRouter) NewWebRTCTransport(ctx context.Context, opts TransportOptions) (Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	t := &pionTransport{
		id:        uuid.NewString(),
		router:    r,
		opts:      opts,
		log:       r.log,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		producers: make(map[string]*pionProducer),
		consumers: make(map[string]*pionConsumer),
	}

	t.iceParams, _ = json.Marshal(wireICEParameters{
		UsernameFragment: iceParams.UsernameFragment,
		Password:         iceParams.Password,
		ICELite:          true,
	})
	wireCandidates := make([]wireICECandidate, 0, len(candidates))
	for _, c := range candidates {
		wireCandidates = append(wireCandidates, wireICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	t.iceCandidates, _ = json.Marshal(wireCandidates)
	fingerprints := make([]wireDTLSFingerprint, 0, len(dtlsParams.Fingerprints))
	for _, fp := range dtlsParams.Fingerprints {
		fingerprints = append(fingerprints, wireDTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	t.dtlsParams, _ = json.Marshal(wireDTLSParameters{Role: "auto", Fingerprints: fingerprints})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = t.Close()
		return nil, ErrClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (t *pionTransport) ID() string                      { return t.id }
func (t *pionTransport) ICEParameters() json.RawMessage  { return t.iceParams }
func (t *pionTransport) ICECandidates() json.RawMessage  { return t.iceCandidates }
func (t *pionTransport) DTLSParameters() json.RawMessage { return t.dtlsParams }

func (t *pionTransport) Connect(_ context.Context, dtlsParameters json.RawMessage) error {
	var params connectParameters
	if err := json.Unmarshal(dtlsParameters, &params); err != nil {
		return fmt.Errorf("decode dtls parameters: %w", err)
	}
	if len(params.Fingerprints) == 0 {
		return errors.New("dtls parameters carry no fingerprints")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return errors.New("transport already connected")
	}
	t.connected = true
	t.mu.Unlock()

	iceRole := webrtc.ICERoleControlled
	err := t.ice.Start(nil, webrtc.ICEParameters{
		UsernameFragment: params.ICEParameters.UsernameFragment,
		Password:         params.ICEParameters.Password,
	}, &iceRole)
	if err != nil {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		return fmt.Errorf("start ice: %w", err)
	}

	fingerprints := make([]webrtc.DTLSFingerprint, 0, len(params.Fingerprints))
	for _, fp := range params.Fingerprints {
		fingerprints = append(fingerprints, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	if err := t.dtls.Start(webrtc.DTLSParameters{
		Role:         remoteDTLSRole(params.Role),
		Fingerprints: fingerprints,
	}); err != nil {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		return fmt.Errorf("start dtls: %w", err)
	}
	return nil
}

func remoteDTLSRole(role string) webrtc.DTLSRole {
	switch role {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func (t *pionTransport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closed
}

func (t *pionTransport) removeProducer(id string) {
	t.mu.Lock()
	if t.producers != nil {
		delete(t.producers, id)
	}
	t.mu.Unlock()
}

func (t *pionTransport) removeConsumer(id string) {
	t.mu.Lock()
	if t.consumers != nil {
		delete(t.consumers, id)
	}
	t.mu.Unlock()
}

// Close releases ICE/DTLS state. Producers and consumers on the transport
// are closed first so their forwarding stops before the session tears down.
func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*pionProducer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*pionConsumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.producers = nil
	t.consumers = nil
	t.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		errs = append(errs, c.Close())
	}
	for _, p := range producers {
		errs = append(errs, p.Close())
	}
	errs = append(errs, t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close())
	t.router.removeTransport(t.id)
	return errors.Join(errs...)
}
