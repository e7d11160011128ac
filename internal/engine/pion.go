package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Pion is the default Engine, terminating ICE/DTLS and forwarding RTP in
// process via pion/webrtc.
type Pion struct {
	settings Settings
	log      *zap.Logger
}

// NewPion creates the pion-backed engine.
func NewPion(settings Settings, log *zap.Logger) *Pion {
	return &Pion{settings: settings, log: log.Named("engine")}
}

// NewWorker creates an isolated forwarding unit. Workers share the process
// but nothing else; each router created on a worker gets its own API stack.
func (e *Pion) NewWorker(_ context.Context) (Worker, error) {
	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory(e.log)}
	if err := se.SetEphemeralUDPPortRange(e.settings.RTPMinPort, e.settings.RTPMaxPort); err != nil {
		return nil, fmt.Errorf("set rtp port range: %w", err)
	}
	if e.settings.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{e.settings.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	se.SetLite(true)
	return &pionWorker{settingEngine: se, log: e.log}, nil
}

type pionWorker struct {
	settingEngine webrtc.SettingEngine
	log           *zap.Logger

	mu      sync.Mutex
	routers []*pionRouter
	closed  bool
}

func (w *pionWorker) NewRouter(_ context.Context, codecs []CodecCapability) (Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	caps, err := finalizeCapabilities(codecs)
	if err != nil {
		return nil, fmt.Errorf("finalize capabilities: %w", err)
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}

	me := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		feedback := make([]webrtc.RTCPFeedback, 0, len(c.RTCPFeedback))
		for _, fb := range c.RTCPFeedback {
			feedback = append(feedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     uint16(c.Channels),
				SDPFmtpLine:  fmtpLine(c.Parameters),
				RTCPFeedback: feedback,
			},
			PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := me.RegisterCodec(params, c.Kind.codecType()); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	r := &pionRouter{
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(w.settingEngine), webrtc.WithMediaEngine(me)),
		caps:       caps,
		capsJSON:   capsJSON,
		log:        w.log,
		transports: make(map[string]*pionTransport),
	}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *pionWorker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

type pionRouter struct {
	api      *webrtc.API
	caps     RTPCapabilities
	capsJSON json.RawMessage
	log      *zap.Logger

	mu         sync.Mutex
	transports map[string]*pionTransport
	closed     bool
}

func (r *pionRouter) RTPCapabilities() json.RawMessage {
	return r.capsJSON
}

// codecForMimeType resolves a producer codec against the router's set.
func (r *pionRouter) codecForMimeType(mimeType string) (CodecCapability, bool) {
	for _, c := range r.caps.Codecs {
		if equalMimeType(c.MimeType, mimeType) {
			return c, true
		}
	}
	return CodecCapability{}, false
}

func (r *pionRouter) CanConsume(producer Producer, rtpCapabilities json.RawMessage) bool {
	p, ok := producer.(*pionProducer)
	if !ok {
		return false
	}
	return canConsume(p.codec, rtpCapabilities)
}

func (r *pionRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*pionTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = nil
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

func (r *pionRouter) removeTransport(id string) {
	r.mu.Lock()
	if r.transports != nil {
		delete(r.transports, id)
	}
	r.mu.Unlock()
}
