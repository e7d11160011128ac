package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quyphuc2111/smartlab-sfu/internal/engine"
)

// Envelope is the wire frame for both directions: a camelCase discriminator
// plus an optional payload object.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client → server message types.
const (
	msgJoin                     = "join"
	msgGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	msgCreateTransport          = "createTransport"
	msgConnectTransport         = "connectTransport"
	msgProduce                  = "produce"
	msgConsume                  = "consume"
	msgResumeConsumer           = "resumeConsumer"
	msgGetProducers             = "getProducers"
	msgChatMessage              = "chatMessage"
)

// Server → client event types.
const (
	evtError                 = "error"
	evtJoined                = "joined"
	evtRouterRtpCapabilities = "routerRtpCapabilities"
	evtTransportCreated      = "transportCreated"
	evtTransportConnected    = "transportConnected"
	evtProduced              = "produced"
	evtConsumed              = "consumed"
	evtConsumerResumed       = "consumerResumed"
	evtProducers             = "producers"
	evtPeerJoined            = "peerJoined"
	evtPeerLeft              = "peerLeft"
	evtNewProducer           = "newProducer"
	evtChatMessage           = "chatMessage"
)

// Direction distinguishes the two transports a peer may hold.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Valid reports whether d is a known transport direction.
func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

// Request payloads. Decoding is strict on the envelope discriminator and
// tolerant of unknown fields inside data.

type JoinData struct {
	RoomID    string `json:"roomId"`
	PeerID    string `json:"peerId"`
	Name      string `json:"name"`
	IsTeacher bool   `json:"isTeacher"`
}

type CreateTransportData struct {
	Direction Direction `json:"direction"`
}

type ConnectTransportData struct {
	Direction      Direction       `json:"direction"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type ProduceData struct {
	Kind          engine.Kind     `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type ConsumeData struct {
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type ResumeConsumerData struct {
	ConsumerID string `json:"consumerId"`
}

type ChatMessageData struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Event payloads.

type ErrorData struct {
	Message string `json:"message"`
}

type JoinedData struct {
	RoomID          string          `json:"roomId"`
	PeerID          string          `json:"peerId"`
	IsTeacher       bool            `json:"isTeacher"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type TransportCreatedData struct {
	Direction      Direction       `json:"direction"`
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type TransportConnectedData struct {
	Direction Direction `json:"direction"`
}

type ProducedData struct {
	ProducerID string      `json:"producerId"`
	Kind       engine.Kind `json:"kind"`
}

type ConsumedData struct {
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          engine.Kind     `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type ConsumerResumedData struct {
	ConsumerID string `json:"consumerId"`
}

// ProducerInfo identifies one published track and its owner.
type ProducerInfo struct {
	ProducerID string      `json:"producerId"`
	Kind       engine.Kind `json:"kind"`
	PeerID     string      `json:"peerId"`
}

type PeerJoinedData struct {
	PeerID    string `json:"peerId"`
	Name      string `json:"name"`
	IsTeacher bool   `json:"isTeacher"`
}

type PeerLeftData struct {
	PeerID     string `json:"peerId"`
	WasTeacher bool   `json:"wasTeacher"`
}

type NewProducerData struct {
	ProducerID string      `json:"producerId"`
	Kind       engine.Kind `json:"kind"`
	PeerID     string      `json:"peerId"`
}

type ChatMessageBroadcast struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	IsTeacher  bool   `json:"isTeacher"`
}

var errMissingData = errors.New("missing message data")

// decodeData unmarshals a request payload. Requests whose table entry
// requires data fail on an absent data field.
func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errMissingData
	}
	return json.Unmarshal(raw, v)
}

// marshalEvent serializes a server event once; broadcasts enqueue the same
// bytes to every target.
func marshalEvent(typ string, payload interface{}) ([]byte, error) {
	var (
		data json.RawMessage
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
	}
	out, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return out, nil
}
