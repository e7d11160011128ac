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

// consumerRTPParameters is what the subscribing client receives so it can
// decode the forwarded track.
type consumerRTPParameters struct {
	Codecs    []CodecCapability   `json:"codecs"`
	Encodings []consumerEncoding  `json:"encodings"`
	RTCP      consumerRTCPOptions `json:"rtcp"`
}

type consumerEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

type consumerRTCPOptions struct {
	CNAME       string `json:"cname"`
	ReducedSize bool   `json:"reducedSize"`
}

type pionConsumer struct {
	id        string
	producer  *pionProducer
	transport *pionTransport
	track     *webrtc.TrackLocalStaticRTP
	sender    *webrtc.RTPSender
	rtpParams json.RawMessage

	mu     sync.Mutex
	paused bool
	closed bool
}

func (t *pionTransport) Consume(_ context.Context, producer Producer, _ json.RawMessage) (Consumer, error) {
	p, ok := producer.(*pionProducer)
	if !ok {
		return nil, errors.New("producer belongs to a different engine")
	}

	codec := p.codec
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:    codec.MimeType,
		ClockRate:   codec.ClockRate,
		Channels:    uint16(codec.Channels),
		SDPFmtpLine: fmtpLine(codec.Parameters),
	}, uuid.NewString(), p.id)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("send: %w", err)
	}
	if len(sendParams.Encodings) == 0 {
		_ = sender.Stop()
		return nil, errors.New("sender allocated no encoding")
	}

	rtpParams, err := json.Marshal(consumerRTPParameters{
		Codecs:    []CodecCapability{codec},
		Encodings: []consumerEncoding{{SSRC: uint32(sendParams.Encodings[0].SSRC)}},
		RTCP:      consumerRTCPOptions{CNAME: p.cname, ReducedSize: true},
	})
	if err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("marshal rtp parameters: %w", err)
	}

	c := &pionConsumer{
		id:        uuid.NewString(),
		producer:  p,
		transport: t,
		track:     track,
		sender:    sender,
		rtpParams: rtpParams,
		paused:    true,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, ErrClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	t.log.Info("consumer created",
		zap.String("consumer_id", c.id),
		zap.String("producer_id", p.id),
		zap.String("kind", string(p.kind)),
	)
	return c, nil
}

func (c *pionConsumer) ID() string                     { return c.id }
func (c *pionConsumer) ProducerID() string             { return c.producer.id }
func (c *pionConsumer) Kind() Kind                     { return c.producer.kind }
func (c *pionConsumer) RTPParameters() json.RawMessage { return c.rtpParams }

// Resume attaches the consumer's track to the producer relay and asks the
// publisher for a keyframe. Resuming twice is a no-op.
func (c *pionConsumer) Resume(_ context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	c.paused = false
	c.mu.Unlock()

	c.producer.relay.attach(c.track)
	c.producer.requestKeyFrame()
	return nil
}

func (c *pionConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasActive := !c.paused
	c.mu.Unlock()

	if wasActive {
		c.producer.relay.detach(c.track)
	}
	err := c.sender.Stop()
	c.transport.removeConsumer(c.id)
	return err
}
