// Package engine binds the signaling core to the underlying media engine.
// The core composes these capabilities; it never touches RTP itself.
package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v3"
)

var (
	// ErrTransportNotConnected is returned when media-level operations are
	// attempted before the DTLS handshake completed.
	ErrTransportNotConnected = errors.New("transport not connected")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("engine handle closed")
)

// Kind is the media kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known media kind.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

func (k Kind) codecType() webrtc.RTPCodecType {
	if k == KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Settings configures worker creation.
type Settings struct {
	// AnnouncedIP is advertised to clients in ICE candidates.
	AnnouncedIP string
	// RTPMinPort..RTPMaxPort is the UDP range media flows on.
	RTPMinPort uint16
	RTPMaxPort uint16
}

// TransportOptions configures a WebRTC transport.
type TransportOptions struct {
	// InitialAvailableOutgoingBitrate seeds the engine's bandwidth
	// estimator, in bits/s. Engines without a seeded estimator ignore it.
	InitialAvailableOutgoingBitrate int
	// MaxIncomingBitrate caps what the remote side may send, in bits/s.
	// Zero means unlimited.
	MaxIncomingBitrate int
}

// Engine creates isolated media workers.
type Engine interface {
	NewWorker(ctx context.Context) (Worker, error)
}

// Worker is an isolated RTP forwarding unit. Rooms assigned to a worker
// stay on it for their lifetime.
type Worker interface {
	NewRouter(ctx context.Context, codecs []CodecCapability) (Router, error)
	Close() error
}

// Router groups the transports of one room under one codec set.
type Router interface {
	// RTPCapabilities is the finalized view of the codec set after the
	// engine fills payload types, feedback and header extensions. Callers
	// must not mutate the returned bytes.
	RTPCapabilities() json.RawMessage
	NewWebRTCTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	// CanConsume reports whether a subscriber with the given capabilities
	// can receive the producer's media.
	CanConsume(producer Producer, rtpCapabilities json.RawMessage) bool
	Close() error
}

// Transport is one ICE/DTLS session with one client, in one direction.
type Transport interface {
	ID() string
	ICEParameters() json.RawMessage
	ICECandidates() json.RawMessage
	DTLSParameters() json.RawMessage
	// Connect completes the DTLS handshake with the client's parameters.
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error
	// Produce starts receiving a track the client publishes. Send
	// transports only; requires Connect to have succeeded.
	Produce(ctx context.Context, kind Kind, rtpParameters json.RawMessage) (Producer, error)
	// Consume starts a paused subscription to a producer. Recv transports
	// only. Callers check Router.CanConsume first.
	Consume(ctx context.Context, producer Producer, rtpCapabilities json.RawMessage) (Consumer, error)
	Close() error
}

// Producer is one track a client is publishing into a router.
type Producer interface {
	ID() string
	Kind() Kind
	Close() error
}

// Consumer is one subscription from a client to a remote producer. It is
// created paused and forwards nothing until Resume.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	// RTPParameters are sent to the subscribing client so it can receive
	// the forwarded track.
	RTPParameters() json.RawMessage
	Resume(ctx context.Context) error
	Close() error
}
