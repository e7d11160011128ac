package realtime

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/quyphuc2111/smartlab-sfu/internal/metrics"
)

// knownRequests bounds the metric label space to the protocol's own types.
var knownRequests = map[string]bool{
	msgJoin: true, msgGetRouterRtpCapabilities: true, msgCreateTransport: true,
	msgConnectTransport: true, msgProduce: true, msgConsume: true,
	msgResumeConsumer: true, msgGetProducers: true, msgChatMessage: true,
}

// handleMessage decodes one inbound frame and dispatches it through the
// per-connection state machine. Recoverable failures reply error{message}
// and leave state untouched.
func (c *Client) handleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("malformed message")
		return
	}
	label := env.Type
	if !knownRequests[label] {
		label = "unknown"
	}
	metrics.MessagesReceived.WithLabelValues(label).Inc()

	// The first accepted message must be join.
	if c.peer == nil && env.Type != msgJoin {
		c.sendError("not joined")
		return
	}

	switch env.Type {
	case msgJoin:
		c.handleJoin(env.Data)
	case msgGetRouterRtpCapabilities:
		c.sendEvent(evtRouterRtpCapabilities, c.room.RTPCapabilities())
	case msgCreateTransport:
		c.handleCreateTransport(env.Data)
	case msgConnectTransport:
		c.handleConnectTransport(env.Data)
	case msgProduce:
		c.handleProduce(env.Data)
	case msgConsume:
		c.handleConsume(env.Data)
	case msgResumeConsumer:
		c.handleResumeConsumer(env.Data)
	case msgGetProducers:
		// Carries no meaningful data; any data field is tolerated.
		c.sendEvent(evtProducers, c.room.TeacherProducers())
	case msgChatMessage:
		c.handleChatMessage(env.Data)
	default:
		c.sendError("unknown message type")
	}
}

func (c *Client) handleJoin(raw json.RawMessage) {
	if c.peer != nil {
		c.sendError("already joined")
		return
	}
	var data JoinData
	if err := decodeData(raw, &data); err != nil {
		c.sendError("invalid join data")
		return
	}
	if data.RoomID == "" || data.PeerID == "" {
		c.sendError("invalid join data")
		return
	}

	room, err := c.manager.GetOrCreateRoom(c.ctx, data.RoomID)
	if err != nil {
		c.log.Error("create room", zap.String("room_id", data.RoomID), zap.Error(err))
		c.sendError("could not create room")
		return
	}

	peer := NewPeer(data.PeerID, data.Name, data.IsTeacher, c)
	if err := room.AddPeer(peer); err != nil {
		c.sendError(err.Error())
		c.manager.CloseRoomIfEmpty(room.ID)
		return
	}
	c.room, c.peer = room, peer

	c.sendEvent(evtJoined, JoinedData{
		RoomID:          room.ID,
		PeerID:          peer.ID,
		IsTeacher:       peer.IsTeacher,
		RTPCapabilities: room.RTPCapabilities(),
	})
	c.broadcastToOthers(evtPeerJoined, PeerJoinedData{
		PeerID:    peer.ID,
		Name:      peer.Name,
		IsTeacher: peer.IsTeacher,
	})
}

func (c *Client) handleCreateTransport(raw json.RawMessage) {
	var data CreateTransportData
	if err := decodeData(raw, &data); err != nil || !data.Direction.Valid() {
		c.sendError("invalid createTransport data")
		return
	}
	if c.peer.Transport(data.Direction) != nil {
		c.sendError(ErrTransportExists.Error())
		return
	}

	transport, err := c.room.CreateTransport(c.ctx, c.manager.TransportOptions())
	if err != nil {
		c.log.Error("create transport", zap.String("direction", string(data.Direction)), zap.Error(err))
		c.sendError("could not create transport")
		return
	}
	if err := c.peer.SetTransport(data.Direction, transport); err != nil {
		_ = transport.Close()
		c.sendError(err.Error())
		return
	}

	c.sendEvent(evtTransportCreated, TransportCreatedData{
		Direction:      data.Direction,
		ID:             transport.ID(),
		ICEParameters:  transport.ICEParameters(),
		ICECandidates:  transport.ICECandidates(),
		DTLSParameters: transport.DTLSParameters(),
	})
}

func (c *Client) handleConnectTransport(raw json.RawMessage) {
	var data ConnectTransportData
	if err := decodeData(raw, &data); err != nil || !data.Direction.Valid() {
		c.sendError("invalid connectTransport data")
		return
	}
	transport := c.peer.Transport(data.Direction)
	if transport == nil {
		c.sendError("transport not created")
		return
	}
	if err := transport.Connect(c.ctx, data.DTLSParameters); err != nil {
		c.log.Error("connect transport", zap.String("direction", string(data.Direction)), zap.Error(err))
		c.sendError("could not connect transport")
		return
	}
	c.peer.SetConnected(data.Direction)
	c.sendEvent(evtTransportConnected, TransportConnectedData{Direction: data.Direction})
}

func (c *Client) handleProduce(raw json.RawMessage) {
	var data ProduceData
	if err := decodeData(raw, &data); err != nil || !data.Kind.Valid() {
		c.sendError("invalid produce data")
		return
	}
	transport := c.peer.Transport(DirectionSend)
	if transport == nil || !c.peer.Connected(DirectionSend) {
		c.sendError("send transport not connected")
		return
	}

	producer, err := transport.Produce(c.ctx, data.Kind, data.RTPParameters)
	if err != nil {
		c.log.Error("produce", zap.String("kind", string(data.Kind)), zap.Error(err))
		c.sendError("could not produce")
		return
	}
	c.peer.AddProducer(producer)

	c.sendEvent(evtProduced, ProducedData{ProducerID: producer.ID(), Kind: producer.Kind()})
	c.broadcastToOthers(evtNewProducer, NewProducerData{
		ProducerID: producer.ID(),
		Kind:       producer.Kind(),
		PeerID:     c.peer.ID,
	})
}

func (c *Client) handleConsume(raw json.RawMessage) {
	var data ConsumeData
	if err := decodeData(raw, &data); err != nil || data.ProducerID == "" {
		c.sendError("invalid consume data")
		return
	}
	transport := c.peer.Transport(DirectionRecv)
	if transport == nil {
		c.sendError("recv transport not created")
		return
	}
	producer, _, ok := c.room.FindProducer(data.ProducerID)
	if !ok || !c.room.CanConsume(producer, data.RTPCapabilities) {
		c.sendError("cannot consume")
		return
	}

	consumer, err := transport.Consume(c.ctx, producer, data.RTPCapabilities)
	if err != nil {
		c.log.Error("consume", zap.String("producer_id", data.ProducerID), zap.Error(err))
		c.sendError("cannot consume")
		return
	}
	c.peer.AddConsumer(consumer)

	c.sendEvent(evtConsumed, ConsumedData{
		ConsumerID:    consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		Kind:          consumer.Kind(),
		RTPParameters: consumer.RTPParameters(),
	})
}

func (c *Client) handleResumeConsumer(raw json.RawMessage) {
	var data ResumeConsumerData
	if err := decodeData(raw, &data); err != nil || data.ConsumerID == "" {
		c.sendError("invalid resumeConsumer data")
		return
	}
	consumer, ok := c.peer.Consumer(data.ConsumerID)
	if !ok {
		c.sendError("unknown consumer")
		return
	}
	if err := consumer.Resume(c.ctx); err != nil {
		c.log.Error("resume consumer", zap.String("consumer_id", data.ConsumerID), zap.Error(err))
		c.sendError("could not resume consumer")
		return
	}
	c.sendEvent(evtConsumerResumed, ConsumerResumedData{ConsumerID: data.ConsumerID})
}

// handleChatMessage fans the message out to every member of the room,
// sender included, so the sender's UI can render from the echo.
func (c *Client) handleChatMessage(raw json.RawMessage) {
	var data ChatMessageData
	if err := decodeData(raw, &data); err != nil {
		c.sendError("invalid chatMessage data")
		return
	}
	payload := ChatMessageBroadcast{
		SenderID:   c.peer.ID,
		SenderName: c.peer.Name,
		Content:    data.Content,
		Timestamp:  data.Timestamp,
		IsTeacher:  c.peer.IsTeacher,
	}
	msg, err := marshalEvent(evtChatMessage, payload)
	if err != nil {
		c.log.Error("marshal chat message", zap.Error(err))
		return
	}
	c.room.Broadcast(msg, "")
}

// broadcastToOthers serializes once and fans out to every room member
// except this connection's peer.
func (c *Client) broadcastToOthers(typ string, payload interface{}) {
	data, err := marshalEvent(typ, payload)
	if err != nil {
		c.log.Error("marshal broadcast", zap.String("type", typ), zap.Error(err))
		return
	}
	c.room.Broadcast(data, c.peer.ID)
}
